package submissions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Submission statuses
const (
	StatusPendingModeration = "PendingModeration"
	StatusUnderReview       = "UnderReview"
	StatusApproved          = "Approved"
	StatusRejected          = "Rejected"
)

var (
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrNotOwner            = errors.New("submission does not belong to you")
	ErrAccountSuspended    = errors.New("account is suspended or banned")
	ErrTaskInactive        = errors.New("task is not currently active")
	ErrTaskFull            = errors.New("task has reached its completion limit")
	ErrDuplicateSubmission = errors.New("task already submitted")
	ErrCampaignInteracted  = errors.New("campaign already interacted with")
	ErrBaseNotApproved     = errors.New("base submission must be approved first")
	ErrBonusExists         = errors.New("bonus submission already exists")
	ErrNotRejected         = errors.New("only rejected submissions can be appealed")
)

// Submission is one worker's attempt at one task. The tally columns are
// denormalized from the vote ledger and move with it in the same
// transaction; total_votes == approve_votes + reject_votes always holds
// (also schema-checked).
type Submission struct {
	ID                   uuid.UUID       `json:"id"`
	TaskID               uuid.UUID       `json:"task_id"`
	UserID               uuid.UUID       `json:"user_id"`
	Status               string          `json:"status"`
	ScreenshotURL        string          `json:"screenshot_url"`
	ReasonText           string          `json:"reason_text"`
	TotalVotes           int             `json:"total_votes"`
	ApproveVotes         int             `json:"approve_votes"`
	RejectVotes          int             `json:"reject_votes"`
	NeedsAdditionalVotes bool            `json:"needs_additional_votes"`
	IsBonusSubmission    bool            `json:"is_bonus_submission"`
	BonusScreenshotURL   *string         `json:"bonus_screenshot_url,omitempty"`
	BonusSubmittedAt     *time.Time      `json:"bonus_submitted_at,omitempty"`
	BasePaymentAwarded   bool            `json:"base_payment_awarded"`
	BonusPaymentAwarded  bool            `json:"bonus_payment_awarded"`
	TotalPayment         decimal.Decimal `json:"total_payment"`
	SubmittedAt          time.Time       `json:"submitted_at"`
	FinalizedAt          *time.Time      `json:"finalized_at,omitempty"`
	Version              int             `json:"version"`
}

// Votable reports whether the submission can still accept moderation votes.
func (s *Submission) Votable() bool {
	return s.Status == StatusPendingModeration || s.Status == StatusUnderReview
}

// Terminal reports whether the submission has been settled.
func (s *Submission) Terminal() bool {
	return s.Status == StatusApproved || s.Status == StatusRejected
}
