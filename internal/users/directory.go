package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUserNotFound = errors.New("user not found")

// Roles
const (
	RoleUser    = "User"
	RoleManager = "Manager"
	RoleAdmin   = "Admin"
)

// Account statuses
const (
	StatusActive    = "Active"
	StatusSuspended = "Suspended"
	StatusBanned    = "Banned"
)

// User is a worker's directory entry: identity, role, financial counters and
// moderation state. pending/total earnings and the task counters are the
// source of truth; rejection rate is always derived, never stored.
type User struct {
	ID                uuid.UUID       `json:"id"`
	Email             string          `json:"email"`
	FullName          string          `json:"full_name"`
	Role              string          `json:"role"`
	AccountStatus     string          `json:"account_status"`
	CanModerate       bool            `json:"can_moderate"`
	ModeratorSince    *time.Time      `json:"moderator_since,omitempty"`
	ModeratorVotes    int             `json:"moderator_votes"`
	ModeratorAccuracy float64         `json:"moderator_accuracy"`
	PendingEarnings   decimal.Decimal `json:"pending_earnings"`
	TotalEarnings     decimal.Decimal `json:"total_earnings"`
	WithdrawnAmount   decimal.Decimal `json:"withdrawn_amount"`
	TasksCompleted    int             `json:"tasks_completed"`
	TasksRejected     int             `json:"tasks_rejected"`
	WarningsCount     int             `json:"warnings_count"`
	SuspensionReason  *string         `json:"suspension_reason,omitempty"`
	SuspensionEndDate *time.Time      `json:"suspension_end_date,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RejectionRate derives the worker's rejection rate from the counters.
// Returns 0 when the worker has no terminal submissions yet.
func (u *User) RejectionRate() float64 {
	total := u.TasksCompleted + u.TasksRejected
	if total == 0 {
		return 0
	}
	return float64(u.TasksRejected) / float64(total)
}

// Suspended reports whether the account may not act as a worker.
func (u *User) Suspended() bool {
	return u.AccountStatus == StatusSuspended || u.AccountStatus == StatusBanned
}

// Directory is the worker directory backed by postgres.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

const userColumns = `id, email, full_name, role, account_status, can_moderate,
	moderator_since, moderator_votes, moderator_accuracy,
	pending_earnings, total_earnings, withdrawn_amount,
	tasks_completed, tasks_rejected, warnings_count,
	suspension_reason, suspension_end_date, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.AccountStatus, &u.CanModerate,
		&u.ModeratorSince, &u.ModeratorVotes, &u.ModeratorAccuracy,
		&u.PendingEarnings, &u.TotalEarnings, &u.WithdrawnAmount,
		&u.TasksCompleted, &u.TasksRejected, &u.WarningsCount,
		&u.SuspensionReason, &u.SuspensionEndDate, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// Get fetches a user by id.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// SetSuspension updates the account status and suspension fields.
func (d *Directory) SetSuspension(ctx context.Context, id uuid.UUID, status string, reason *string, endDate *time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE users SET account_status = $2, suspension_reason = $3,
		     suspension_end_date = $4, updated_at = now()
		 WHERE id = $1`,
		id, status, reason, endDate,
	)
	if err != nil {
		return fmt.Errorf("failed to set suspension: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetModerationEligibility flips the earned-access flag. Granting stamps
// moderator_since; revoking clears it.
func (d *Directory) SetModerationEligibility(ctx context.Context, id uuid.UUID, canModerate bool) error {
	var res sql.Result
	var err error
	if canModerate {
		res, err = d.db.ExecContext(ctx,
			`UPDATE users SET can_moderate = TRUE, moderator_since = now(), updated_at = now()
			 WHERE id = $1`, id)
	} else {
		res, err = d.db.ExecContext(ctx,
			`UPDATE users SET can_moderate = FALSE, moderator_since = NULL, updated_at = now()
			 WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("failed to set moderation eligibility: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUpgradeCandidates returns active non-moderator workers whose lifetime
// earnings have crossed the moderator minimum.
func (d *Directory) ListUpgradeCandidates(ctx context.Context, minimumEarnings decimal.Decimal) ([]*User, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE role = $1 AND account_status = $2 AND can_moderate = FALSE
		   AND total_earnings >= $3
		 ORDER BY total_earnings DESC`,
		RoleUser, StatusActive, minimumEarnings,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query upgrade candidates: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListStaffIDs returns all admin and manager ids, used when an event has
// to reach every reviewer.
func (d *Directory) ListStaffIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM users WHERE role IN ($1, $2)`, RoleAdmin, RoleManager)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan staff id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordSuspension appends a suspension-history record.
func (d *Directory) RecordSuspension(ctx context.Context, userID uuid.UUID, reason, suspendedBy, suspensionType string, endsAt *time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO suspension_history (id, user_id, reason, suspended_by, suspension_type, ends_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), userID, reason, suspendedBy, suspensionType, endsAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record suspension: %w", err)
	}
	return nil
}
