package submissions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/notifications"
	"github.com/taskhive/taskhive/internal/tasks"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/pkg/messaging"
)

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string)
}

// Service handles the submission lifecycle outside moderation: creation,
// bonus rounds and appeals.
type Service struct {
	store     *Store
	userDir   *users.Directory
	taskStore *tasks.Store
	notifier  Notifier
	audit     *audit.Recorder
	nats      *messaging.Client
}

func NewService(store *Store, userDir *users.Directory, taskStore *tasks.Store, notifier Notifier, auditRec *audit.Recorder, nats *messaging.Client) *Service {
	return &Service{
		store:     store,
		userDir:   userDir,
		taskStore: taskStore,
		notifier:  notifier,
		audit:     auditRec,
		nats:      nats,
	}
}

// CreateRequest is a worker's task submission.
type CreateRequest struct {
	TaskID        uuid.UUID `json:"task_id"`
	ScreenshotURL string    `json:"screenshot_url"`
	ReasonText    string    `json:"reason_text"`
}

// Create records a worker's attempt at a task. One submission per worker per
// task, one campaign interaction per worker per campaign; both enforced by
// storage constraints rather than check-then-insert.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Submission, error) {
	worker, err := s.userDir.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if worker.Suspended() {
		return nil, ErrAccountSuspended
	}

	task, err := s.taskStore.Get(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != tasks.StatusActive {
		return nil, ErrTaskInactive
	}
	if !task.HasCapacity() {
		return nil, ErrTaskFull
	}

	sub := &Submission{
		ID:            uuid.New(),
		TaskID:        req.TaskID,
		UserID:        userID,
		Status:        StatusPendingModeration,
		ScreenshotURL: req.ScreenshotURL,
		ReasonText:    req.ReasonText,
		TotalPayment:  decimal.Zero,
		SubmittedAt:   time.Now(),
	}

	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.InsertTx(ctx, tx, sub); err != nil {
		return nil, err
	}

	// One interaction per campaign; the primary key is the guard.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_campaign_interactions (user_id, campaign_id) VALUES ($1, $2)`,
		userID, task.CampaignID,
	)
	if isUniqueViolation(err) {
		return nil, ErrCampaignInteracted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record campaign interaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET completed_count = completed_count + 1, updated_at = now() WHERE id = $1`,
		task.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to bump task count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	if s.nats != nil {
		if err := s.nats.Publish(ctx, messaging.EventTypeSubmissionCreated, map[string]string{
			"submission_id": sub.ID.String(),
			"task_id":       task.ID.String(),
			"user_id":       userID.String(),
		}); err != nil {
			log.Printf("submission event publish failed: %v", err)
		}
	}

	return sub, nil
}

// SubmitBonus attaches the second-round screenshot to an approved
// submission and sends it back through moderation.
func (s *Service) SubmitBonus(ctx context.Context, userID, submissionID uuid.UUID, bonusScreenshotURL string) (*Submission, error) {
	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrNotOwner
	}
	if sub.Status != StatusApproved {
		return nil, ErrBaseNotApproved
	}
	if sub.IsBonusSubmission {
		return nil, ErrBonusExists
	}

	_, err = s.store.DB().ExecContext(ctx,
		`UPDATE task_submissions SET
		     is_bonus_submission = TRUE,
		     bonus_screenshot_url = $2,
		     bonus_submitted_at = now(),
		     status = $3,
		     needs_additional_votes = TRUE,
		     version = version + 1
		 WHERE id = $1`,
		submissionID, bonusScreenshotURL, StatusPendingModeration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record bonus submission: %w", err)
	}

	return s.store.Get(ctx, submissionID)
}

// Appeal moves a rejected submission back to UnderReview for manual admin
// re-resolution and alerts the admins. The automated resolver never touches
// an appealed submission again on its own; moderators revisit it through
// the normal queue.
func (s *Service) Appeal(ctx context.Context, userID, submissionID uuid.UUID, reason string, adminIDs []uuid.UUID) error {
	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return ErrNotOwner
	}
	if sub.Status != StatusRejected {
		return ErrNotRejected
	}

	if _, err := s.store.DB().ExecContext(ctx,
		`UPDATE task_submissions SET status = $2, version = version + 1 WHERE id = $1`,
		submissionID, StatusUnderReview,
	); err != nil {
		return fmt.Errorf("failed to reopen submission: %w", err)
	}

	s.audit.Record(ctx, userID, audit.KindAppealSubmitted,
		"Appeal submitted for rejected submission",
		audit.AppealSubmittedPayload{SubmissionID: submissionID, AppealReason: reason})

	for _, adminID := range adminIDs {
		s.notifier.Notify(ctx, adminID, notifications.KindSupportResponse,
			"New Submission Appeal",
			"A user has appealed a rejected submission. Review required.",
			"/submissions/"+submissionID.String())
	}

	if s.nats != nil {
		if err := s.nats.Publish(ctx, messaging.EventTypeSubmissionAppealed, map[string]string{
			"submission_id": submissionID.String(),
			"user_id":       userID.String(),
		}); err != nil {
			log.Printf("appeal event publish failed: %v", err)
		}
	}

	return nil
}

// Get returns a submission with owner/role gating applied by the caller's
// role: workers only see their own.
func (s *Service) Get(ctx context.Context, requesterID uuid.UUID, requesterRole string, submissionID uuid.UUID) (*Submission, error) {
	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if requesterRole == users.RoleUser && sub.UserID != requesterID {
		return nil, ErrNotOwner
	}
	return sub, nil
}

// ListMine returns the requesting worker's submissions.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 10
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}

// Earned is the worker's total payment across their approved submissions;
// used by the payment pipeline breakdown.
func (s *Service) Earned(ctx context.Context, userID uuid.UUID) (base, bonus decimal.Decimal, err error) {
	err = s.store.DB().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN base_payment_awarded THEN t.base_payment ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN bonus_payment_awarded THEN t.bonus_payment ELSE 0 END), 0)
		 FROM task_submissions s JOIN tasks t ON t.id = s.task_id
		 WHERE s.user_id = $1 AND s.status = $2`,
		userID, StatusApproved,
	).Scan(&base, &bonus)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to compute earnings breakdown: %w", err)
	}
	return base, bonus, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
