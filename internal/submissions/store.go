package submissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const submissionColumns = `id, task_id, user_id, status, screenshot_url, reason_text,
	total_votes, approve_votes, reject_votes, needs_additional_votes,
	is_bonus_submission, bonus_screenshot_url, bonus_submitted_at,
	base_payment_awarded, bonus_payment_awarded, total_payment,
	submitted_at, finalized_at, version`

// Store holds the task_submissions SQL. The moderation and settlement
// engines reuse its Tx helpers so tally and status writes stay inside the
// owning transaction.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for engines that open their own
// transactions across submission, user and vote rows.
func (s *Store) DB() *sql.DB {
	return s.db
}

func scanSubmission(row interface{ Scan(...interface{}) error }) (*Submission, error) {
	var sub Submission
	err := row.Scan(&sub.ID, &sub.TaskID, &sub.UserID, &sub.Status, &sub.ScreenshotURL,
		&sub.ReasonText, &sub.TotalVotes, &sub.ApproveVotes, &sub.RejectVotes,
		&sub.NeedsAdditionalVotes, &sub.IsBonusSubmission, &sub.BonusScreenshotURL,
		&sub.BonusSubmittedAt, &sub.BasePaymentAwarded, &sub.BonusPaymentAwarded,
		&sub.TotalPayment, &sub.SubmittedAt, &sub.FinalizedAt, &sub.Version)
	if err == sql.ErrNoRows {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}
	return &sub, nil
}

// Get fetches a submission by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM task_submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

// GetForUpdateTx fetches and row-locks a submission inside the caller's
// transaction.
func (s *Store) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Submission, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM task_submissions WHERE id = $1 FOR UPDATE`, id)
	return scanSubmission(row)
}

// InsertTx creates a submission row. A (task_id, user_id) collision maps to
// ErrDuplicateSubmission.
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, sub *Submission) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO task_submissions
		     (id, task_id, user_id, status, screenshot_url, reason_text,
		      total_payment, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.TaskID, sub.UserID, sub.Status, sub.ScreenshotURL,
		sub.ReasonText, sub.TotalPayment, sub.SubmittedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateSubmission
	}
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// BumpTallyTx increments the denormalized vote tally alongside the ledger
// insert in the same transaction.
func (s *Store) BumpTallyTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, approve bool) error {
	approveInc, rejectInc := 0, 1
	if approve {
		approveInc, rejectInc = 1, 0
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE task_submissions SET
		     total_votes   = total_votes + 1,
		     approve_votes = approve_votes + $2,
		     reject_votes  = reject_votes + $3,
		     version       = version + 1
		 WHERE id = $1`,
		id, approveInc, rejectInc,
	)
	if err != nil {
		return fmt.Errorf("failed to bump tally: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// MarkUnderReview flags a tied submission as needing additional votes.
func (s *Store) MarkUnderReview(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_submissions
		 SET status = $2, needs_additional_votes = TRUE, version = version + 1
		 WHERE id = $1 AND status IN ($3, $2)`,
		id, StatusUnderReview, StatusPendingModeration,
	)
	if err != nil {
		return fmt.Errorf("failed to mark under review: %w", err)
	}
	return nil
}

// TerminalCountsTx counts approved and rejected submissions for a task. The
// approval rate is recomputed from these on every finalization instead of
// being drifted incrementally.
func (s *Store) TerminalCountsTx(ctx context.Context, tx *sql.Tx, taskID uuid.UUID) (approved, rejected int, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = $2),
		        COUNT(*) FILTER (WHERE status = $3)
		 FROM task_submissions WHERE task_id = $1`,
		taskID, StatusApproved, StatusRejected,
	).Scan(&approved, &rejected)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count terminal submissions: %w", err)
	}
	return approved, rejected, nil
}

// ListByUser returns a worker's submissions, newest first.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_submissions WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM task_submissions
		 WHERE user_id = $1 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	out, err := collect(rows)
	return out, total, err
}

// ListPending returns votable submissions for the moderation queue, oldest
// first, excluding the moderator's own work and anything they already
// voted on.
func (s *Store) ListPending(ctx context.Context, moderatorID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	const where = `status IN ('PendingModeration', 'UnderReview')
		 AND user_id <> $1
		 AND NOT EXISTS (
		     SELECT 1 FROM moderation_votes v
		     WHERE v.submission_id = task_submissions.id AND v.moderator_id = $1
		 )`

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_submissions WHERE `+where, moderatorID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pending submissions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM task_submissions
		 WHERE `+where+` ORDER BY submitted_at ASC LIMIT $2 OFFSET $3`,
		moderatorID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query pending submissions: %w", err)
	}
	defer rows.Close()

	out, err := collect(rows)
	return out, total, err
}

func collect(rows *sql.Rows) ([]*Submission, error) {
	var out []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
