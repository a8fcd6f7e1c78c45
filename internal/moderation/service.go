package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/settlement"
	"github.com/taskhive/taskhive/internal/submissions"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/internal/votes"
	"github.com/taskhive/taskhive/pkg/messaging"
)

var (
	ErrNotModerator       = errors.New("user does not have moderation access")
	ErrModeratorSuspended = errors.New("moderator account is suspended")
	ErrOwnSubmission      = errors.New("cannot vote on own submission")
	ErrNotPending         = errors.New("submission is not awaiting moderation")
	ErrInvalidDecision    = errors.New("decision must be Approve or Reject")
)

// Service handles vote casting and queue access. Each accepted vote runs in
// its own transaction (vote row, submission tally, moderator fee); quorum
// resolution happens after that transaction commits, so a crash between the
// two leaves a consistent tally that the next vote re-resolves.
type Service struct {
	db       *sql.DB
	subs     *submissions.Store
	ledger   *votes.Ledger
	users    *users.Directory
	settings *settings.Store
	engine   *settlement.Engine
	nats     *messaging.Client
	metrics  *metrics.Recorder
}

func NewService(db *sql.DB, subs *submissions.Store, ledger *votes.Ledger, dir *users.Directory,
	st *settings.Store, engine *settlement.Engine, nats *messaging.Client, rec *metrics.Recorder) *Service {
	return &Service{
		db:       db,
		subs:     subs,
		ledger:   ledger,
		users:    dir,
		settings: st,
		engine:   engine,
		nats:     nats,
		metrics:  rec,
	}
}

// VoteResult is returned to the caller after a successful cast.
type VoteResult struct {
	Vote    *votes.Vote        `json:"vote"`
	Tally   Tally              `json:"tally"`
	Outcome string             `json:"outcome"`
	Settled *settlement.Result `json:"settled,omitempty"`
}

// CastVote records one moderator's decision and, when the new tally
// resolves, hands the submission to the settlement engine. The vote and
// the moderation fee commit together; if the same moderator races two
// casts, the vote ledger's unique pair constraint rejects the loser.
func (s *Service) CastVote(ctx context.Context, moderatorID, submissionID uuid.UUID, decision string, comment *string) (*VoteResult, error) {
	if decision != votes.DecisionApprove && decision != votes.DecisionReject {
		return nil, ErrInvalidDecision
	}

	mod, err := s.users.Get(ctx, moderatorID)
	if err != nil {
		return nil, err
	}
	if !mod.CanModerate {
		return nil, ErrNotModerator
	}
	if mod.Suspended() {
		return nil, ErrModeratorSuspended
	}

	sub, err := s.subs.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID == moderatorID {
		return nil, ErrOwnSubmission
	}
	if !sub.Votable() {
		return nil, ErrNotPending
	}

	// Cheap early exit; the insert below is the real guard.
	if voted, err := s.ledger.HasVoted(ctx, submissionID, moderatorID); err != nil {
		return nil, err
	} else if voted {
		return nil, votes.ErrAlreadyVoted
	}

	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	vote := &votes.Vote{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		ModeratorID:  moderatorID,
		Decision:     decision,
		Comment:      comment,
		VotedAt:      time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-read under the row lock; the submission may have been finalized
	// between the advisory check and here.
	locked, err := s.subs.GetForUpdateTx(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	if !locked.Votable() {
		return nil, ErrNotPending
	}

	if err := s.ledger.InsertTx(ctx, tx, vote); err != nil {
		return nil, err
	}
	if err := s.subs.BumpTallyTx(ctx, tx, submissionID, decision == votes.DecisionApprove); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET
		     moderator_votes  = moderator_votes + 1,
		     pending_earnings = pending_earnings + $2,
		     total_earnings   = total_earnings + $2,
		     updated_at       = now()
		 WHERE id = $1`,
		moderatorID, st.ModerationFeePerVote,
	); err != nil {
		return nil, fmt.Errorf("failed to credit moderation fee: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit vote: %w", err)
	}

	tally := Tally{
		Total:   locked.TotalVotes + 1,
		Approve: locked.ApproveVotes,
		Reject:  locked.RejectVotes,
	}
	if decision == votes.DecisionApprove {
		tally.Approve++
	} else {
		tally.Reject++
	}

	s.publish(ctx, messaging.EventTypeVoteCast, messaging.VoteCastEvent{
		VoteID:       vote.ID,
		SubmissionID: submissionID,
		ModeratorID:  moderatorID,
		Decision:     decision,
		TotalVotes:   tally.Total,
		ApproveVotes: tally.Approve,
		RejectVotes:  tally.Reject,
		Fee:          st.ModerationFeePerVote.StringFixed(2),
	})
	s.metrics.RecordVote(decision)

	outcome := Resolve(tally, Quorum{Min: st.MinVotesRequired, Max: st.MaxVotesRequired})
	result := &VoteResult{Vote: vote, Tally: tally, Outcome: outcome.String()}

	switch outcome {
	case OutcomeApproved, OutcomeRejected:
		settled, err := s.engine.Finalize(ctx, submissionID, outcome == OutcomeApproved, st)
		if err == settlement.ErrAlreadyFinalized {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result.Settled = settled

	case OutcomeNeedsMoreVotes:
		if err := s.subs.MarkUnderReview(ctx, submissionID); err != nil {
			return nil, err
		}
		s.publish(ctx, messaging.EventTypeSubmissionUnderReview, messaging.SubmissionFinalizedEvent{
			SubmissionID: submissionID,
			TaskID:       locked.TaskID,
			UserID:       locked.UserID,
			Status:       submissions.StatusUnderReview,
			TotalVotes:   tally.Total,
			ApproveVotes: tally.Approve,
			RejectVotes:  tally.Reject,
		})
	}

	return result, nil
}

// Queue lists submissions the moderator may vote on: votable, not their
// own and not yet voted on by them, oldest first.
func (s *Service) Queue(ctx context.Context, moderatorID uuid.UUID, limit, offset int) ([]*submissions.Submission, int, error) {
	mod, err := s.users.Get(ctx, moderatorID)
	if err != nil {
		return nil, 0, err
	}
	if !mod.CanModerate {
		return nil, 0, ErrNotModerator
	}
	if mod.Suspended() {
		return nil, 0, ErrModeratorSuspended
	}
	return s.subs.ListPending(ctx, moderatorID, limit, offset)
}

// ModeratorStats summarizes one moderator's voting record.
type ModeratorStats struct {
	VotesCast   int        `json:"votes_cast"`
	ScoredVotes int        `json:"scored_votes"`
	Accuracy    float64    `json:"accuracy"`
	FeesEarned  string     `json:"fees_earned"`
	Since       *time.Time `json:"moderator_since,omitempty"`
}

// Stats reports the moderator's vote count, scored accuracy and lifetime
// fee earnings.
func (s *Service) Stats(ctx context.Context, moderatorID uuid.UUID) (*ModeratorStats, error) {
	mod, err := s.users.Get(ctx, moderatorID)
	if err != nil {
		return nil, err
	}

	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	var scored int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM moderation_votes WHERE moderator_id = $1 AND was_correct IS NOT NULL`,
		moderatorID,
	).Scan(&scored); err != nil {
		return nil, fmt.Errorf("failed to count scored votes: %w", err)
	}

	fees := st.ModerationFeePerVote.Mul(decimal.NewFromInt(int64(mod.ModeratorVotes)))
	return &ModeratorStats{
		VotesCast:   mod.ModeratorVotes,
		ScoredVotes: scored,
		Accuracy:    mod.ModeratorAccuracy,
		FeesEarned:  fees.StringFixed(2),
		Since:       mod.ModeratorSince,
	}, nil
}

// History returns the moderator's past votes, newest first.
func (s *Service) History(ctx context.Context, moderatorID uuid.UUID, limit, offset int) ([]*votes.Vote, int, error) {
	return s.ledger.ListByModerator(ctx, moderatorID, limit, offset)
}

// VotesFor returns all votes on a submission for admin review.
func (s *Service) VotesFor(ctx context.Context, submissionID uuid.UUID) ([]*votes.Vote, error) {
	if _, err := s.subs.Get(ctx, submissionID); err != nil {
		return nil, err
	}
	return s.ledger.ListBySubmission(ctx, submissionID)
}

func (s *Service) publish(ctx context.Context, subject string, payload interface{}) {
	if s.nats == nil {
		return
	}
	if err := s.nats.Publish(ctx, subject, payload); err != nil {
		log.Printf("moderation event publish failed (%s): %v", subject, err)
	}
}
