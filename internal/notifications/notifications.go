package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/taskhive/pkg/circuit"
	"github.com/taskhive/taskhive/pkg/messaging"
)

// Notification kinds
const (
	KindTaskApproved      = "TaskApproved"
	KindTaskRejected      = "TaskRejected"
	KindModeratorAccess   = "ModeratorAccess"
	KindSuspensionWarning = "SuspensionWarning"
	KindSuspensionNotice  = "SuspensionNotice"
	KindPaymentProcessed  = "PaymentProcessed"
	KindSupportResponse   = "SupportResponse"
)

// Notification is a user-facing message.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is the notification sink. Delivery is best-effort: persistence and
// fan-out failures are logged and swallowed, never surfaced to settlement.
type Service struct {
	db      *sql.DB
	nats    *messaging.Client
	breaker *circuit.Breaker
}

func NewService(db *sql.DB, nats *messaging.Client) *Service {
	return &Service{
		db:   db,
		nats: nats,
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "notifications",
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
			HalfOpenMax: 2,
			OnStateChange: func(from, to circuit.State) {
				log.Printf("notification breaker %s -> %s", from, to)
			},
		}),
	}
}

// Notify persists a notification row and publishes the matching event.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string) {
	err := s.breaker.Execute(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, kind, title, message, link)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), userID, kind, title, message, link,
		)
		return err
	})
	if err != nil {
		log.Printf("notification delivery skipped for user %s (%s): %v", userID, kind, err)
		return
	}

	if s.nats != nil {
		event := messaging.NotificationEvent{
			UserID:  userID,
			Kind:    kind,
			Title:   title,
			Message: message,
			Link:    link,
		}
		if err := s.nats.Publish(ctx, messaging.EventTypeNotificationCreated, event); err != nil {
			log.Printf("notification event publish failed: %v", err)
		}
	}
}

// List returns a user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, title, message, link, read, created_at
		 FROM notifications WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message,
			&n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkRead marks a single notification as read.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}
