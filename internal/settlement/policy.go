package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/taskhive/taskhive/internal/votes"
)

// MinScoredVotes is how many scored votes a moderator needs before low
// accuracy revokes their eligibility.
const MinScoredVotes = 10

// WarningBand is the fraction of the suspension threshold at which a
// worker gets a warning instead of a suspension.
const WarningBand = 0.8

// ComputePayment returns the payout for an approved submission: the task's
// base amount, plus the bonus amount when this was a bonus-round submission
// that actually carries its bonus screenshot. Rejected submissions pay
// nothing.
func ComputePayment(approved, isBonusSubmission, hasBonusScreenshot bool, base, bonus decimal.Decimal) (payment decimal.Decimal, baseAwarded, bonusAwarded bool) {
	if !approved {
		return decimal.Zero, false, false
	}
	payment = base
	baseAwarded = true
	if isBonusSubmission && hasBonusScreenshot {
		payment = payment.Add(bonus)
		bonusAwarded = true
	}
	return payment, baseAwarded, bonusAwarded
}

// SuspensionAction is the suspension policy verdict for a worker.
type SuspensionAction int

const (
	SuspensionNone SuspensionAction = iota
	SuspensionWarn
	SuspensionSuspend
)

// EvaluateSuspension derives the worker's rejection rate from the counters
// and maps it to an action. Above the threshold the worker is suspended;
// above 80% of the threshold they get a warning. Workers with no terminal
// submissions are never touched.
func EvaluateSuspension(tasksCompleted, tasksRejected int, threshold float64) (SuspensionAction, float64) {
	total := tasksCompleted + tasksRejected
	if total == 0 {
		return SuspensionNone, 0
	}
	rate := float64(tasksRejected) / float64(total)
	switch {
	case rate > threshold:
		return SuspensionSuspend, rate
	case rate > threshold*WarningBand:
		return SuspensionWarn, rate
	default:
		return SuspensionNone, rate
	}
}

// VoteCorrect reports whether a vote matched the final decision.
func VoteCorrect(finalApproved bool, decision string) bool {
	if finalApproved {
		return decision == votes.DecisionApprove
	}
	return decision == votes.DecisionReject
}

// ShouldRevoke reports whether a moderator's scored history warrants
// revoking moderation eligibility.
func ShouldRevoke(scoredVotes int, accuracy, accuracyMin float64) bool {
	return scoredVotes >= MinScoredVotes && accuracy < accuracyMin
}

// ApprovalRate recomputes a task's approval rate (percent) over its
// terminal submissions. Returns 0 when the task has none.
func ApprovalRate(approved, rejected int) float64 {
	total := approved + rejected
	if total == 0 {
		return 0
	}
	return float64(approved) / float64(total) * 100
}
