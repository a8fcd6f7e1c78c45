package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/notifications"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/pkg/messaging"
	"github.com/taskhive/taskhive/pkg/money"
)

var (
	ErrNotAdmin           = errors.New("only admins can do this")
	ErrNotStaff           = errors.New("only admins and managers can do this")
	ErrCannotSuspendAdmin = errors.New("cannot suspend admin users")
	ErrSuspensionNotFound = errors.New("suspension record not found")
	ErrNoAppeal           = errors.New("no appeal has been submitted for this suspension")
	ErrAppealExists       = errors.New("an appeal has already been submitted")
	ErrNotSuspended       = errors.New("suspension does not belong to this user")
	ErrInvalidStatus      = errors.New("status must be Active, Suspended or Banned")
)

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string)
}

// Service covers the manual side of account policy: suspensions, bans,
// moderator access grants, suspension appeals and the earnings-based
// moderator auto-upgrade sweep.
type Service struct {
	db       *sql.DB
	users    *users.Directory
	settings *settings.Store
	notifier Notifier
	audit    *audit.Recorder
	nats     *messaging.Client
}

func NewService(db *sql.DB, dir *users.Directory, st *settings.Store,
	notifier Notifier, auditRec *audit.Recorder, nats *messaging.Client) *Service {
	return &Service{
		db:       db,
		users:    dir,
		settings: st,
		notifier: notifier,
		audit:    auditRec,
		nats:     nats,
	}
}

// StatusRequest changes an account's status.
type StatusRequest struct {
	UserID  uuid.UUID  `json:"user_id"`
	Status  string     `json:"status"`
	Reason  string     `json:"reason"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

// SetAccountStatus suspends, bans or reactivates a worker. Admin accounts
// are exempt from suspension. A missing end date on a suspension defaults
// to one month out.
func (s *Service) SetAccountStatus(ctx context.Context, adminID uuid.UUID, adminRole string, req StatusRequest) error {
	if adminRole != users.RoleAdmin {
		return ErrNotAdmin
	}
	if req.Status != users.StatusActive && req.Status != users.StatusSuspended && req.Status != users.StatusBanned {
		return ErrInvalidStatus
	}

	target, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return err
	}
	if target.Role == users.RoleAdmin {
		return ErrCannotSuspendAdmin
	}

	endDate := req.EndDate
	if req.Status == users.StatusSuspended && endDate == nil {
		d := time.Now().AddDate(0, 1, 0)
		endDate = &d
	}
	if req.Status != users.StatusSuspended {
		endDate = nil
	}

	var reason *string
	if req.Status != users.StatusActive {
		reason = &req.Reason
	}
	if err := s.users.SetSuspension(ctx, req.UserID, req.Status, reason, endDate); err != nil {
		return err
	}

	if req.Status == users.StatusSuspended || req.Status == users.StatusBanned {
		if err := s.users.RecordSuspension(ctx, req.UserID, req.Reason, adminID.String(), "Manual", endDate); err != nil {
			return err
		}
	}

	var kind, message string
	var auditKind string
	switch req.Status {
	case users.StatusSuspended:
		kind = notifications.KindSuspensionNotice
		message = fmt.Sprintf("Your account has been suspended until %s. Reason: %s",
			endDate.Format("2006-01-02"), req.Reason)
		auditKind = audit.KindUserSuspended
	case users.StatusBanned:
		kind = notifications.KindSuspensionNotice
		message = fmt.Sprintf("Your account has been permanently banned. Reason: %s", req.Reason)
		auditKind = audit.KindUserBanned
	default:
		kind = notifications.KindModeratorAccess
		message = "Your account status has been updated to Active."
		auditKind = audit.KindUserReactivated
	}

	s.notifier.Notify(ctx, req.UserID, kind, "Account Status Updated", message, "")
	s.audit.Record(ctx, adminID, auditKind,
		fmt.Sprintf("%s: %s", auditKind, target.FullName),
		audit.AccountStatusPayload{TargetUserID: req.UserID, Status: req.Status, Reason: req.Reason})

	if req.Status != users.StatusActive {
		s.publish(ctx, messaging.EventTypeUserSuspended, messaging.UserSuspendedEvent{
			UserID:         req.UserID,
			Reason:         req.Reason,
			SuspendedBy:    adminID.String(),
			SuspensionType: "Manual",
			EndsAt:         endDate,
		})
	}
	return nil
}

// ManageModeratorAccess grants or revokes the earned-moderation flag.
func (s *Service) ManageModeratorAccess(ctx context.Context, adminID uuid.UUID, adminRole string, targetID uuid.UUID, canModerate bool, reason string) error {
	if adminRole != users.RoleAdmin {
		return ErrNotAdmin
	}

	target, err := s.users.Get(ctx, targetID)
	if err != nil {
		return err
	}

	if err := s.users.SetModerationEligibility(ctx, targetID, canModerate); err != nil {
		return err
	}

	title, message := "Moderator Access Revoked", "Your moderator access has been revoked."
	subject := messaging.EventTypeModeratorRevoked
	verb := "Revoked"
	if canModerate {
		title = "Moderator Access Granted"
		message = "Congratulations! You now have moderator access. You can review submissions and earn moderation fees."
		subject = messaging.EventTypeModeratorGranted
		verb = "Granted"
	}

	s.notifier.Notify(ctx, targetID, notifications.KindModeratorAccess, title, message, "/moderation")
	s.audit.Record(ctx, adminID, audit.KindModeratorAccess,
		fmt.Sprintf("%s moderator access for %s", verb, target.FullName),
		audit.ModeratorAccessPayload{TargetUserID: targetID, CanModerate: canModerate, Reason: reason})
	s.publish(ctx, subject, messaging.ModeratorAccessEvent{
		UserID:      targetID,
		CanModerate: canModerate,
		Reason:      reason,
	})
	return nil
}

// SuspensionRecord is one row of a user's suspension history.
type SuspensionRecord struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"user_id"`
	Reason           string        `json:"reason"`
	SuspendedBy      string        `json:"suspended_by"`
	SuspensionType   string        `json:"suspension_type"`
	EndsAt           *time.Time    `json:"ends_at,omitempty"`
	AppealSubmitted  bool          `json:"appeal_submitted"`
	AppealReason     *string       `json:"appeal_reason,omitempty"`
	AppealApproved   *bool         `json:"appeal_approved,omitempty"`
	AppealReviewedBy uuid.NullUUID `json:"appeal_reviewed_by,omitempty"`
	AppealReviewedAt *time.Time    `json:"appeal_reviewed_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

const suspensionColumns = `id, user_id, reason, suspended_by, suspension_type, ends_at,
	appeal_submitted, appeal_reason, appeal_approved, appeal_reviewed_by, appeal_reviewed_at, created_at`

func scanSuspension(row interface{ Scan(...interface{}) error }) (*SuspensionRecord, error) {
	var r SuspensionRecord
	err := row.Scan(&r.ID, &r.UserID, &r.Reason, &r.SuspendedBy, &r.SuspensionType, &r.EndsAt,
		&r.AppealSubmitted, &r.AppealReason, &r.AppealApproved, &r.AppealReviewedBy, &r.AppealReviewedAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSuspensionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan suspension: %w", err)
	}
	return &r, nil
}

// SuspensionHistory lists a user's suspensions, newest first.
func (s *Service) SuspensionHistory(ctx context.Context, requesterRole string, userID uuid.UUID, limit, offset int) ([]*SuspensionRecord, error) {
	if requesterRole != users.RoleAdmin && requesterRole != users.RoleManager {
		return nil, ErrNotStaff
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+suspensionColumns+` FROM suspension_history
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspension history: %w", err)
	}
	defer rows.Close()

	var out []*SuspensionRecord
	for rows.Next() {
		r, err := scanSuspension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SubmitAppeal records a worker's appeal against their own suspension.
// One appeal per suspension record.
func (s *Service) SubmitAppeal(ctx context.Context, userID, suspensionID uuid.UUID, reason string) error {
	rec, err := scanSuspension(s.db.QueryRowContext(ctx,
		`SELECT `+suspensionColumns+` FROM suspension_history WHERE id = $1`, suspensionID))
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrNotSuspended
	}
	if rec.AppealSubmitted {
		return ErrAppealExists
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE suspension_history SET appeal_submitted = TRUE, appeal_reason = $2
		 WHERE id = $1 AND appeal_submitted = FALSE`,
		suspensionID, reason)
	if err != nil {
		return fmt.Errorf("failed to submit appeal: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAppealExists
	}

	s.audit.Record(ctx, userID, audit.KindAppealSubmitted,
		"Submitted suspension appeal",
		audit.SuspensionAppealPayload{SuspensionID: suspensionID, AppealReason: reason})
	return nil
}

// ReviewAppeal settles a suspension appeal. Approval reactivates the
// account and clears the suspension fields.
func (s *Service) ReviewAppeal(ctx context.Context, reviewerID uuid.UUID, reviewerRole string, suspensionID uuid.UUID, approved bool, reviewNotes string) error {
	if reviewerRole != users.RoleAdmin && reviewerRole != users.RoleManager {
		return ErrNotStaff
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanSuspension(tx.QueryRowContext(ctx,
		`SELECT `+suspensionColumns+` FROM suspension_history WHERE id = $1 FOR UPDATE`, suspensionID))
	if err != nil {
		return err
	}
	if !rec.AppealSubmitted {
		return ErrNoAppeal
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE suspension_history SET appeal_approved = $2, appeal_reviewed_by = $3, appeal_reviewed_at = now()
		 WHERE id = $1`,
		suspensionID, approved, reviewerID); err != nil {
		return fmt.Errorf("failed to update appeal: %w", err)
	}

	if approved {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET account_status = $2, suspension_end_date = NULL,
			     suspension_reason = NULL, updated_at = now()
			 WHERE id = $1`,
			rec.UserID, users.StatusActive); err != nil {
			return fmt.Errorf("failed to reactivate user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit appeal review: %w", err)
	}

	message := "Your suspension appeal has been denied."
	if approved {
		message = "Your suspension appeal has been approved. Your account is now active."
	}
	if reviewNotes != "" {
		message += " " + reviewNotes
	}
	s.notifier.Notify(ctx, rec.UserID, notifications.KindSuspensionNotice, "Appeal Reviewed", message, "")

	s.audit.Record(ctx, reviewerID, audit.KindAppealReviewed,
		fmt.Sprintf("Reviewed suspension appeal for %s", rec.UserID),
		audit.AppealReviewedPayload{SuspensionID: suspensionID, Approved: approved, ReviewNotes: reviewNotes})
	return nil
}

// FlaggedUsers is the admin dashboard's watchlist: workers with high
// rejection rates and moderators with low scored accuracy.
type FlaggedUsers struct {
	HighRejection []*users.User `json:"high_rejection"`
	LowAccuracy   []*users.User `json:"low_accuracy"`
}

func (s *Service) GetFlaggedUsers(ctx context.Context, requesterRole string) (*FlaggedUsers, error) {
	if requesterRole != users.RoleAdmin && requesterRole != users.RoleManager {
		return nil, ErrNotStaff
	}

	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	high, err := s.listUsers(ctx,
		`SELECT id FROM users
		 WHERE role = $1 AND tasks_completed + tasks_rejected > 0
		   AND tasks_rejected::float / (tasks_completed + tasks_rejected) > $2 * 0.8
		 ORDER BY tasks_rejected::float / (tasks_completed + tasks_rejected) DESC
		 LIMIT 20`,
		users.RoleUser, st.SuspensionThreshold)
	if err != nil {
		return nil, err
	}

	low, err := s.listUsers(ctx,
		`SELECT id FROM users
		 WHERE can_moderate AND moderator_accuracy < $1 AND moderator_votes > 10
		 ORDER BY moderator_accuracy ASC
		 LIMIT 20`,
		st.ModeratorAccuracyMin)
	if err != nil {
		return nil, err
	}

	return &FlaggedUsers{HighRejection: high, LowAccuracy: low}, nil
}

func (s *Service) listUsers(ctx context.Context, query string, args ...interface{}) ([]*users.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*users.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.users.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

const upgradeWorkers = 4

// AutoUpgradeModerators grants moderation access to every active worker
// whose lifetime earnings have crossed the configured minimum. Candidates
// are upgraded concurrently; each grant is independent, so one failure
// aborts the sweep without undoing completed grants.
func (s *Service) AutoUpgradeModerators(ctx context.Context) (int, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return 0, err
	}

	candidates, err := s.users.ListUpgradeCandidates(ctx, st.ModeratorMinimumEarnings)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upgradeWorkers)
	for _, u := range candidates {
		u := u
		g.Go(func() error {
			return s.upgrade(gctx, u, st.ModeratorMinimumEarnings)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	log.Printf("auto-upgraded %d users to moderators", len(candidates))
	return len(candidates), nil
}

func (s *Service) upgrade(ctx context.Context, u *users.User, threshold decimal.Decimal) error {
	if err := s.users.SetModerationEligibility(ctx, u.ID, true); err != nil {
		return fmt.Errorf("failed to upgrade %s: %w", u.ID, err)
	}

	s.notifier.Notify(ctx, u.ID, notifications.KindModeratorAccess,
		"Moderator Access Granted",
		fmt.Sprintf("Congratulations! You've earned moderator access by reaching %s. You can now review submissions and earn moderation fees.",
			money.FormatUSD(threshold)),
		"/moderation")
	s.publish(ctx, messaging.EventTypeModeratorGranted, messaging.ModeratorAccessEvent{
		UserID:      u.ID,
		CanModerate: true,
		Reason:      "earnings threshold reached",
	})
	return nil
}

func (s *Service) publish(ctx context.Context, subject string, payload interface{}) {
	if s.nats == nil {
		return
	}
	if err := s.nats.Publish(ctx, subject, payload); err != nil {
		log.Printf("admin event publish failed (%s): %v", subject, err)
	}
}
