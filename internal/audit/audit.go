package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Activity kinds. Each kind has exactly one payload shape below; the
// metadata column is a tagged union, not an open dictionary.
const (
	KindAppealSubmitted = "AppealSubmitted"
	KindAppealReviewed  = "AppealReviewed"
	KindPaymentReviewed = "PaymentReviewed"
	KindUserSuspended   = "UserSuspended"
	KindUserBanned      = "UserBanned"
	KindUserReactivated = "UserReactivated"
	KindModeratorAccess = "ModeratorAccessChanged"
	KindSettingsChanged = "SettingsChanged"
)

// AppealSubmittedPayload records a worker appealing a rejection.
type AppealSubmittedPayload struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	AppealReason string    `json:"appeal_reason"`
}

// SuspensionAppealPayload records a worker appealing a suspension.
type SuspensionAppealPayload struct {
	SuspensionID uuid.UUID `json:"suspension_id"`
	AppealReason string    `json:"appeal_reason"`
}

// AppealReviewedPayload records an admin's appeal decision.
type AppealReviewedPayload struct {
	SuspensionID uuid.UUID `json:"suspension_id"`
	Approved     bool      `json:"approved"`
	ReviewNotes  string    `json:"review_notes,omitempty"`
}

// PaymentReviewedPayload records a payment review outcome.
type PaymentReviewedPayload struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Status    string    `json:"status"`
	Flagged   bool      `json:"flagged"`
}

// AccountStatusPayload records manual account status changes.
type AccountStatusPayload struct {
	TargetUserID uuid.UUID `json:"target_user_id"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
}

// ModeratorAccessPayload records eligibility flips.
type ModeratorAccessPayload struct {
	TargetUserID uuid.UUID `json:"target_user_id"`
	CanModerate  bool      `json:"can_moderate"`
	Reason       string    `json:"reason,omitempty"`
}

// Entry is a persisted activity record.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	ActivityType string          `json:"activity_type"`
	Description  string          `json:"description"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Recorder writes the activity trail. Failures are logged and swallowed;
// the trail is advisory and must not fail the owning operation.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends an entry with a typed payload.
func (r *Recorder) Record(ctx context.Context, actorID uuid.UUID, kind, description string, payload interface{}) {
	meta, err := json.Marshal(payload)
	if err != nil {
		log.Printf("activity log payload marshal failed (%s): %v", kind, err)
		return
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, user_id, activity_type, description, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), actorID, kind, description, meta,
	)
	if err != nil {
		log.Printf("activity log write failed (%s): %v", kind, err)
	}
}

// ListByUser returns a user's activity, newest first.
func (r *Recorder) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, activity_type, description, metadata, created_at
		 FROM activity_log WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActivityType, &e.Description,
			&e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
