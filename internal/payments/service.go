package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/internal/notifications"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/pkg/messaging"
	"github.com/taskhive/taskhive/pkg/money"
)

// Statuses
const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below minimum withdrawal")
	ErrPendingExists       = errors.New("a pending payment request already exists")
	ErrNotPending          = errors.New("only pending payments can be reviewed")
	ErrNotReviewer         = errors.New("only admins and managers can do this")
	ErrNotOwner            = errors.New("not your payment")
	ErrInvalidStatus       = errors.New("status must be Completed or Failed")
)

// Payment is one withdrawal request and the breakdown it was computed from.
type Payment struct {
	ID                  uuid.UUID       `json:"id"`
	UserID              uuid.UUID       `json:"user_id"`
	Amount              decimal.Decimal `json:"amount"`
	BasePayments        decimal.Decimal `json:"base_payments"`
	BonusPayments       decimal.Decimal `json:"bonus_payments"`
	ModerationFees      decimal.Decimal `json:"moderation_fees"`
	Status              string          `json:"status"`
	PaymentMethod       string          `json:"payment_method"`
	FlaggedAsSuspicious bool            `json:"flagged_as_suspicious"`
	ReviewNotes         *string         `json:"review_notes,omitempty"`
	ReviewedBy          uuid.NullUUID   `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time      `json:"reviewed_at,omitempty"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// EarningsSource computes a worker's approved base/bonus earnings split.
type EarningsSource interface {
	Earned(ctx context.Context, userID uuid.UUID) (base, bonus decimal.Decimal, err error)
}

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string)
}

// Service runs the manual withdrawal pipeline: workers request their
// pending balance, admins review to Completed or Failed. The requested
// amount leaves pending_earnings when the request is accepted, not when it
// is reviewed; a Failed review refunds it.
type Service struct {
	db       *sql.DB
	users    *users.Directory
	settings *settings.Store
	earnings EarningsSource
	notifier Notifier
	audit    *audit.Recorder
	nats     *messaging.Client
	metrics  *metrics.Recorder
}

func NewService(db *sql.DB, dir *users.Directory, st *settings.Store, earnings EarningsSource,
	notifier Notifier, auditRec *audit.Recorder, nats *messaging.Client, rec *metrics.Recorder) *Service {
	return &Service{
		db:       db,
		users:    dir,
		settings: st,
		earnings: earnings,
		notifier: notifier,
		audit:    auditRec,
		nats:     nats,
		metrics:  rec,
	}
}

const paymentColumns = `id, user_id, amount, base_payments, bonus_payments, moderation_fees,
	status, payment_method, flagged_as_suspicious, review_notes,
	reviewed_by, reviewed_at, processed_at, created_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.BasePayments, &p.BonusPayments, &p.ModerationFees,
		&p.Status, &p.PaymentMethod, &p.FlaggedAsSuspicious, &p.ReviewNotes,
		&p.ReviewedBy, &p.ReviewedAt, &p.ProcessedAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	return &p, nil
}

// Request creates a withdrawal for the given amount. The balance check and
// the decrement happen under the user's row lock, so two racing requests
// cannot both draw from the same balance.
func (s *Service) Request(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*Payment, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(st.MinimumWithdrawal) {
		return nil, ErrBelowMinimum
	}

	base, bonus, err := s.earnings.Earned(ctx, userID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pending decimal.Decimal
	var canModerate bool
	err = tx.QueryRowContext(ctx,
		`SELECT pending_earnings, can_moderate FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&pending, &canModerate)
	if err == sql.ErrNoRows {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if pending.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	var hasPending bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE user_id = $1 AND status = $2)`,
		userID, StatusPending,
	).Scan(&hasPending); err != nil {
		return nil, fmt.Errorf("failed to check pending payments: %w", err)
	}
	if hasPending {
		return nil, ErrPendingExists
	}

	// Anything in the amount not explained by approved base/bonus payouts is
	// accumulated moderation fees; non-moderators cannot have any.
	fees := decimal.Zero
	if canModerate {
		fees = decimal.Min(amount.Sub(base).Sub(bonus), pending.Sub(base).Sub(bonus))
		if fees.IsNegative() {
			fees = decimal.Zero
		}
	}

	p := &Payment{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         amount,
		BasePayments:   base,
		BonusPayments:  bonus,
		ModerationFees: fees,
		Status:         StatusPending,
		PaymentMethod:  "ManualCSV",
		CreatedAt:      time.Now(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payments (id, user_id, amount, base_payments, bonus_payments, moderation_fees,
		     status, payment_method, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.Amount, p.BasePayments, p.BonusPayments, p.ModerationFees,
		p.Status, p.PaymentMethod, p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET pending_earnings = pending_earnings - $2, updated_at = now() WHERE id = $1`,
		userID, amount,
	); err != nil {
		return nil, fmt.Errorf("failed to reserve balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment request: %w", err)
	}

	s.notifier.Notify(ctx, userID, notifications.KindPaymentProcessed,
		"Payment Request Submitted",
		fmt.Sprintf("Your payment request for %s has been submitted for review.", money.FormatUSD(amount)),
		"/payments/"+p.ID.String())

	s.publish(ctx, messaging.EventTypePaymentRequested, messaging.PaymentEvent{
		PaymentID: p.ID,
		UserID:    userID,
		Amount:    amount.StringFixed(2),
		Status:    StatusPending,
	})
	s.metrics.RecordPayment(StatusPending, amount)

	return p, nil
}

// ReviewRequest is an admin's verdict on a pending payment.
type ReviewRequest struct {
	PaymentID        uuid.UUID `json:"payment_id"`
	Status           string    `json:"status"`
	FlagAsSuspicious bool      `json:"flag_as_suspicious"`
	ReviewNotes      *string   `json:"review_notes,omitempty"`
}

// Review settles a pending payment. Completed adds to the worker's
// withdrawn total; Failed returns the reserved amount to their balance.
func (s *Service) Review(ctx context.Context, reviewerID uuid.UUID, reviewerRole string, req ReviewRequest) (*Payment, error) {
	if reviewerRole != users.RoleAdmin && reviewerRole != users.RoleManager {
		return nil, ErrNotReviewer
	}
	if req.Status != StatusCompleted && req.Status != StatusFailed {
		return nil, ErrInvalidStatus
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, req.PaymentID))
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := time.Now()
	var processedAt *time.Time
	if req.Status == StatusCompleted {
		processedAt = &now
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $2, flagged_as_suspicious = $3, review_notes = $4,
		     reviewed_by = $5, reviewed_at = $6, processed_at = $7
		 WHERE id = $1`,
		p.ID, req.Status, req.FlagAsSuspicious, req.ReviewNotes, reviewerID, now, processedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	switch req.Status {
	case StatusCompleted:
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET withdrawn_amount = withdrawn_amount + $2, updated_at = now() WHERE id = $1`,
			p.UserID, p.Amount,
		); err != nil {
			return nil, fmt.Errorf("failed to record withdrawal: %w", err)
		}
	case StatusFailed:
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET pending_earnings = pending_earnings + $2, updated_at = now() WHERE id = $1`,
			p.UserID, p.Amount,
		); err != nil {
			return nil, fmt.Errorf("failed to refund balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit review: %w", err)
	}

	p.Status = req.Status
	p.FlaggedAsSuspicious = req.FlagAsSuspicious
	p.ReviewNotes = req.ReviewNotes
	p.ReviewedBy = uuid.NullUUID{UUID: reviewerID, Valid: true}
	p.ReviewedAt = &now
	p.ProcessedAt = processedAt

	message := fmt.Sprintf("Your payment of %s has been processed successfully.", money.FormatUSD(p.Amount))
	if req.Status == StatusFailed {
		message = fmt.Sprintf("Your payment request of %s was declined.", money.FormatUSD(p.Amount))
		if req.ReviewNotes != nil && *req.ReviewNotes != "" {
			message += " " + *req.ReviewNotes
		}
	}
	s.notifier.Notify(ctx, p.UserID, notifications.KindPaymentProcessed,
		"Payment Status Updated", message, "/payments/"+p.ID.String())

	s.audit.Record(ctx, reviewerID, audit.KindPaymentReviewed,
		fmt.Sprintf("Reviewed payment %s: %s", p.ID, money.FormatUSD(p.Amount)),
		audit.PaymentReviewedPayload{
			PaymentID: p.ID,
			Status:    req.Status,
			Flagged:   req.FlagAsSuspicious,
		})

	s.publish(ctx, messaging.EventTypePaymentReviewed, messaging.PaymentEvent{
		PaymentID: p.ID,
		UserID:    p.UserID,
		Amount:    p.Amount.StringFixed(2),
		Status:    req.Status,
		Flagged:   req.FlagAsSuspicious,
	})
	s.metrics.RecordPayment(req.Status, p.Amount)

	return p, nil
}

// Get returns one payment; workers may only see their own.
func (s *Service) Get(ctx context.Context, requesterID uuid.UUID, requesterRole string, paymentID uuid.UUID) (*Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
	if err != nil {
		return nil, err
	}
	if requesterRole == users.RoleUser && p.UserID != requesterID {
		return nil, ErrNotOwner
	}
	return p, nil
}

// Filter narrows admin payment listings.
type Filter struct {
	Status      string
	FlaggedOnly bool
}

// List returns payments newest first. Workers see only their own rows
// regardless of the filter.
func (s *Service) List(ctx context.Context, requesterID uuid.UUID, requesterRole string, f Filter, limit, offset int) ([]*Payment, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	where := []string{"1=1"}
	args := []interface{}{}
	if requesterRole == users.RoleUser {
		args = append(args, requesterID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.FlaggedOnly {
		where = append(where, "flagged_as_suspicious = TRUE")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE `+cond+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Stats summarizes the payment pipeline for the admin dashboard.
type Stats struct {
	Total        int             `json:"total"`
	Pending      int             `json:"pending"`
	Completed    int             `json:"completed"`
	Failed       int             `json:"failed"`
	Flagged      int             `json:"flagged"`
	TotalPaidOut decimal.Decimal `json:"total_paid_out"`
	TotalPending decimal.Decimal `json:"total_pending"`
}

func (s *Service) GetStats(ctx context.Context, requesterRole string) (*Stats, error) {
	if requesterRole != users.RoleAdmin && requesterRole != users.RoleManager {
		return nil, ErrNotReviewer
	}

	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = $1),
		        COUNT(*) FILTER (WHERE status = $2),
		        COUNT(*) FILTER (WHERE status = $3),
		        COUNT(*) FILTER (WHERE flagged_as_suspicious),
		        COALESCE(SUM(amount) FILTER (WHERE status = $2), 0),
		        COALESCE(SUM(amount) FILTER (WHERE status = $1), 0)
		 FROM payments`,
		StatusPending, StatusCompleted, StatusFailed,
	).Scan(&st.Total, &st.Pending, &st.Completed, &st.Failed, &st.Flagged,
		&st.TotalPaidOut, &st.TotalPending)
	if err != nil {
		return nil, fmt.Errorf("failed to compute payment stats: %w", err)
	}
	return &st, nil
}

// ExportCSV renders payments matching the filter as a CSV document for the
// manual payout run.
func (s *Service) ExportCSV(ctx context.Context, requesterID uuid.UUID, requesterRole string, f Filter) (string, error) {
	if requesterRole != users.RoleAdmin && requesterRole != users.RoleManager {
		return "", ErrNotReviewer
	}

	list, _, err := s.List(ctx, requesterID, requesterRole, f, 200, 0)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Payment ID,User ID,Amount,Base Payments,Bonus Payments,Moderation Fees,Status,Payment Method,Flagged,Created At,Reviewed At,Processed At\n")
	for _, p := range list {
		reviewed, processed := "", ""
		if p.ReviewedAt != nil {
			reviewed = p.ReviewedAt.Format(time.RFC3339)
		}
		if p.ProcessedAt != nil {
			processed = p.ProcessedAt.Format(time.RFC3339)
		}
		flagged := "No"
		if p.FlaggedAsSuspicious {
			flagged = "Yes"
		}
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
			p.ID, p.UserID, p.Amount.StringFixed(2),
			p.BasePayments.StringFixed(2), p.BonusPayments.StringFixed(2), p.ModerationFees.StringFixed(2),
			p.Status, p.PaymentMethod, flagged,
			p.CreatedAt.Format(time.RFC3339), reviewed, processed)
	}
	return b.String(), nil
}

func (s *Service) publish(ctx context.Context, subject string, payload interface{}) {
	if s.nats == nil {
		return
	}
	if err := s.nats.Publish(ctx, subject, payload); err != nil {
		log.Printf("payment event publish failed (%s): %v", subject, err)
	}
}
