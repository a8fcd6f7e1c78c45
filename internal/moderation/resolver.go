package moderation

// Tally is a submission's current vote counts.
type Tally struct {
	Total   int
	Approve int
	Reject  int
}

// Quorum is the active vote-count policy.
type Quorum struct {
	Min int
	Max int
}

// Outcome is the resolver's verdict for a tally.
type Outcome int

const (
	// OutcomePending: below the minimum vote count, keep collecting.
	OutcomePending Outcome = iota
	// OutcomeNeedsMoreVotes: tied below the ceiling, request extra votes.
	OutcomeNeedsMoreVotes
	OutcomeApproved
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeNeedsMoreVotes:
		return "needs_more_votes"
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Resolved reports whether the outcome is terminal.
func (o Outcome) Resolved() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

// Resolve evaluates a tally against the quorum policy. Majority uses
// ceil(total/2), so a 2-2 split needs a third differentiating vote rather
// than resolving on a narrow edge. At the ceiling the larger side wins;
// an exact tie at the ceiling resolves Rejected.
func Resolve(t Tally, q Quorum) Outcome {
	if t.Total < q.Min {
		return OutcomePending
	}

	half := (t.Total + 1) / 2

	if t.Approve > t.Reject && t.Approve >= half {
		return OutcomeApproved
	}
	if t.Reject > t.Approve && t.Reject >= half {
		return OutcomeRejected
	}

	if t.Approve == t.Reject && t.Total < q.Max {
		return OutcomeNeedsMoreVotes
	}

	if t.Total >= q.Max {
		if t.Approve > t.Reject {
			return OutcomeApproved
		}
		return OutcomeRejected
	}

	return OutcomePending
}
