package votes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrAlreadyVoted = errors.New("already voted on this submission")
	ErrVoteNotFound = errors.New("vote not found")
)

// Decisions
const (
	DecisionApprove = "Approve"
	DecisionReject  = "Reject"
)

// Vote is one moderator's judgment of one submission. Rows are append-only;
// WasCorrect is the only field ever mutated, once, during settlement.
type Vote struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	ModeratorID  uuid.UUID `json:"moderator_id"`
	Decision     string    `json:"decision"`
	Comment      *string   `json:"comment,omitempty"`
	WasCorrect   *bool     `json:"was_correct,omitempty"`
	VotedAt      time.Time `json:"voted_at"`
}

// ScoredStats summarizes a moderator's scored voting history.
type ScoredStats struct {
	Total   int
	Correct int
}

// Accuracy returns correct/total over scored votes, 0 when unscored.
func (s ScoredStats) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// Ledger is the append-only vote store. Double-vote prevention lives in the
// moderation_votes unique pair constraint, not in application checks.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

const uniqueViolation = "23505"

// InsertTx appends a vote inside the caller's transaction. A unique pair
// collision surfaces as ErrAlreadyVoted so racing duplicate casts cannot
// both succeed.
func (l *Ledger) InsertTx(ctx context.Context, tx *sql.Tx, v *Vote) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO moderation_votes (id, submission_id, moderator_id, decision, comment, voted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.SubmissionID, v.ModeratorID, v.Decision, v.Comment, v.VotedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrAlreadyVoted
	}
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// HasVoted reports whether the moderator already voted on the submission.
// Advisory only; InsertTx remains the authoritative guard.
func (l *Ledger) HasVoted(ctx context.Context, submissionID, moderatorID uuid.UUID) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM moderation_votes WHERE submission_id = $1 AND moderator_id = $2
		 )`, submissionID, moderatorID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check vote: %w", err)
	}
	return exists, nil
}

// ListBySubmission returns all votes on a submission, oldest first.
func (l *Ledger) ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*Vote, error) {
	return l.list(ctx, l.db.QueryContext, submissionID)
}

// ListBySubmissionTx is ListBySubmission inside the caller's transaction.
func (l *Ledger) ListBySubmissionTx(ctx context.Context, tx *sql.Tx, submissionID uuid.UUID) ([]*Vote, error) {
	return l.list(ctx, tx.QueryContext, submissionID)
}

type queryFn func(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

func (l *Ledger) list(ctx context.Context, query queryFn, submissionID uuid.UUID) ([]*Vote, error) {
	rows, err := query(ctx,
		`SELECT id, submission_id, moderator_id, decision, comment, was_correct, voted_at
		 FROM moderation_votes WHERE submission_id = $1 ORDER BY voted_at ASC`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	var out []*Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ID, &v.SubmissionID, &v.ModeratorID, &v.Decision,
			&v.Comment, &v.WasCorrect, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// MarkCorrectnessTx backfills the correctness flag after resolution. The
// was_correct IS NULL guard keeps the write-once invariant even if a
// settlement retries.
func (l *Ledger) MarkCorrectnessTx(ctx context.Context, tx *sql.Tx, voteID uuid.UUID, correct bool) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE moderation_votes SET was_correct = $2
		 WHERE id = $1 AND was_correct IS NULL`,
		voteID, correct,
	)
	if err != nil {
		return fmt.Errorf("failed to mark vote correctness: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrVoteNotFound
	}
	return nil
}

// ScoredStatsTx recomputes a moderator's scored-vote totals from the full
// ledger history inside the caller's transaction. Full recompute, not an
// incremental counter, so concurrent settlements cannot drift it.
func (l *Ledger) ScoredStatsTx(ctx context.Context, tx *sql.Tx, moderatorID uuid.UUID) (ScoredStats, error) {
	var stats ScoredStats
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE was_correct)
		 FROM moderation_votes
		 WHERE moderator_id = $1 AND was_correct IS NOT NULL`,
		moderatorID,
	).Scan(&stats.Total, &stats.Correct)
	if err != nil {
		return ScoredStats{}, fmt.Errorf("failed to compute scored stats: %w", err)
	}
	return stats, nil
}

// ListByModerator returns a moderator's votes, newest first, for the
// moderation-history view.
func (l *Ledger) ListByModerator(ctx context.Context, moderatorID uuid.UUID, limit, offset int) ([]*Vote, int, error) {
	var total int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM moderation_votes WHERE moderator_id = $1`,
		moderatorID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count votes: %w", err)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, submission_id, moderator_id, decision, comment, was_correct, voted_at
		 FROM moderation_votes WHERE moderator_id = $1
		 ORDER BY voted_at DESC LIMIT $2 OFFSET $3`,
		moderatorID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	var out []*Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ID, &v.SubmissionID, &v.ModeratorID, &v.Decision,
			&v.Comment, &v.WasCorrect, &v.VotedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan vote: %w", err)
		}
		out = append(out, &v)
	}
	return out, total, rows.Err()
}
