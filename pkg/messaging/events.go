package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	EventTypeVoteCast              = "moderation.vote_cast"
	EventTypeSubmissionFinalized   = "moderation.submission_finalized"
	EventTypeSubmissionUnderReview = "moderation.submission_under_review"
	EventTypeSubmissionCreated     = "submission.created"
	EventTypeSubmissionAppealed    = "submission.appealed"

	EventTypeUserSuspended    = "user.suspended"
	EventTypeUserWarned       = "user.warned"
	EventTypeModeratorGranted = "moderator.granted"
	EventTypeModeratorRevoked = "moderator.revoked"

	EventTypePaymentRequested = "payment.requested"
	EventTypePaymentReviewed  = "payment.reviewed"

	EventTypeNotificationCreated = "notification.created"
)

// VoteCastEvent is emitted after a moderation vote is durably recorded.
type VoteCastEvent struct {
	VoteID       uuid.UUID `json:"vote_id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	ModeratorID  uuid.UUID `json:"moderator_id"`
	Decision     string    `json:"decision"`
	TotalVotes   int       `json:"total_votes"`
	ApproveVotes int       `json:"approve_votes"`
	RejectVotes  int       `json:"reject_votes"`
	Fee          string    `json:"fee"`
}

// SubmissionFinalizedEvent is emitted once per settled submission.
type SubmissionFinalizedEvent struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	TaskID       uuid.UUID `json:"task_id"`
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"status"`
	TotalVotes   int       `json:"total_votes"`
	ApproveVotes int       `json:"approve_votes"`
	RejectVotes  int       `json:"reject_votes"`
	Payment      string    `json:"payment"`
	BonusAwarded bool      `json:"bonus_awarded"`
	FinalizedAt  time.Time `json:"finalized_at"`
}

// UserSuspendedEvent carries suspension policy outcomes.
type UserSuspendedEvent struct {
	UserID        uuid.UUID  `json:"user_id"`
	Reason        string     `json:"reason"`
	SuspendedBy   string     `json:"suspended_by"`
	SuspensionType string    `json:"suspension_type"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
}

// ModeratorAccessEvent is emitted when moderation eligibility flips.
type ModeratorAccessEvent struct {
	UserID      uuid.UUID `json:"user_id"`
	CanModerate bool      `json:"can_moderate"`
	Accuracy    float64   `json:"accuracy,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// PaymentEvent carries withdrawal pipeline state changes.
type PaymentEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	UserID    uuid.UUID `json:"user_id"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Flagged   bool      `json:"flagged,omitempty"`
}

// NotificationEvent mirrors a persisted user notification.
type NotificationEvent struct {
	UserID  uuid.UUID `json:"user_id"`
	Kind    string    `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Link    string    `json:"link,omitempty"`
}
