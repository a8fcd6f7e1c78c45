package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrTaskNotFound = errors.New("task not found")

// Task statuses
const (
	StatusActive    = "Active"
	StatusPaused    = "Paused"
	StatusCompleted = "Completed"
)

// Task carries the payment amounts and aggregate outcome counters the
// settlement engine needs. Campaign/instruction fields ride along for the
// moderation queue display.
type Task struct {
	ID                   uuid.UUID       `json:"id"`
	CampaignID           uuid.UUID       `json:"campaign_id"`
	TaskType             string          `json:"task_type"`
	Recipient            string          `json:"recipient"`
	TopicInstruction     string          `json:"topic_instruction"`
	DetailedInstructions string          `json:"detailed_instructions"`
	Status               string          `json:"status"`
	BasePayment          decimal.Decimal `json:"base_payment"`
	BonusPayment         decimal.Decimal `json:"bonus_payment"`
	TotalQuantity        int             `json:"total_quantity"`
	CompletedCount       int             `json:"completed_count"`
	ApprovedCount        int             `json:"approved_count"`
	RejectedCount        int             `json:"rejected_count"`
	ApprovalRate         float64         `json:"approval_rate"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// HasCapacity reports whether the task can accept another submission.
func (t *Task) HasCapacity() bool {
	return t.CompletedCount < t.TotalQuantity
}

// Store is the task/campaign store backed by postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get fetches a task by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, task_type, recipient, topic_instruction,
		        detailed_instructions, status, base_payment, bonus_payment,
		        total_quantity, completed_count, approved_count, rejected_count,
		        approval_rate, created_at, updated_at
		 FROM tasks WHERE id = $1`, id,
	).Scan(&t.ID, &t.CampaignID, &t.TaskType, &t.Recipient, &t.TopicInstruction,
		&t.DetailedInstructions, &t.Status, &t.BasePayment, &t.BonusPayment,
		&t.TotalQuantity, &t.CompletedCount, &t.ApprovedCount, &t.RejectedCount,
		&t.ApprovalRate, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}

