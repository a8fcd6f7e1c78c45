package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/taskhive/taskhive/pkg/money"
)

var ErrNotFound = errors.New("platform settings not found")

const (
	cacheKey = "platform:settings"
	cacheTTL = 30 * time.Second
)

// Settings is the platform policy singleton. The engines receive it by value
// at decision time, so quorum and threshold behavior is deterministic per call.
type Settings struct {
	ID                       uuid.UUID       `json:"id"`
	MinVotesRequired         int             `json:"min_votes_required"`
	MaxVotesRequired         int             `json:"max_votes_required"`
	ModeratorAccuracyMin     float64         `json:"moderator_accuracy_min"`
	SuspensionThreshold      float64         `json:"suspension_threshold"`
	ModerationFeePerVote     decimal.Decimal `json:"moderation_fee_per_vote"`
	ModeratorMinimumEarnings decimal.Decimal `json:"moderator_minimum_earnings"`
	MinimumWithdrawal        decimal.Decimal `json:"minimum_withdrawal"`
	BaseTaskPayment          decimal.Decimal `json:"base_task_payment"`
	BonusTaskPayment         decimal.Decimal `json:"bonus_task_payment"`
	ModerationTimeoutHours   int             `json:"moderation_timeout_hours"`
	AllowTaskReservations    bool            `json:"allow_task_reservations"`
	MaintenanceMode          bool            `json:"maintenance_mode"`
	UpdatedBy                uuid.NullUUID   `json:"updated_by"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// Defaults returns the seed values used when no settings row exists yet.
func Defaults() Settings {
	return Settings{
		MinVotesRequired:         3,
		MaxVotesRequired:         5,
		ModeratorAccuracyMin:     0.75,
		SuspensionThreshold:      0.25,
		ModerationFeePerVote:     money.FromFloat(0.05),
		ModeratorMinimumEarnings: decimal.NewFromInt(25),
		MinimumWithdrawal:        decimal.NewFromInt(10),
		BaseTaskPayment:          decimal.NewFromInt(1),
		BonusTaskPayment:         decimal.NewFromInt(4),
		ModerationTimeoutHours:   24,
		AllowTaskReservations:    true,
	}
}

// Public is the subset exposed to unauthenticated clients.
type Public struct {
	MinimumWithdrawal        decimal.Decimal `json:"minimum_withdrawal"`
	BaseTaskPayment          decimal.Decimal `json:"base_task_payment"`
	BonusTaskPayment         decimal.Decimal `json:"bonus_task_payment"`
	ModerationFeePerVote     decimal.Decimal `json:"moderation_fee_per_vote"`
	ModeratorMinimumEarnings decimal.Decimal `json:"moderator_minimum_earnings"`
	AllowTaskReservations    bool            `json:"allow_task_reservations"`
	MaintenanceMode          bool            `json:"maintenance_mode"`
}

// Store reads and writes the settings singleton. Reads go through a short
// redis cache; a cache miss or unreachable redis falls back to postgres.
type Store struct {
	db    *sql.DB
	cache *redis.Client
}

// NewStore creates a settings store. The redis client may be nil.
func NewStore(db *sql.DB, cache *redis.Client) *Store {
	return &Store{db: db, cache: cache}
}

// Get returns the active settings, falling back to defaults when the
// singleton row has not been seeded.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached Settings
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	loaded, err := s.load(ctx)
	if err == ErrNotFound {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(loaded); err == nil {
			s.cache.Set(ctx, cacheKey, raw, cacheTTL)
		}
	}

	return loaded, nil
}

func (s *Store) load(ctx context.Context) (Settings, error) {
	var st Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT id, min_votes_required, max_votes_required, moderator_accuracy_min,
		        suspension_threshold, moderation_fee_per_vote, moderator_minimum_earnings,
		        minimum_withdrawal, base_task_payment, bonus_task_payment,
		        moderation_timeout_hours, allow_task_reservations, maintenance_mode,
		        updated_by, updated_at
		 FROM platform_settings LIMIT 1`,
	).Scan(&st.ID, &st.MinVotesRequired, &st.MaxVotesRequired, &st.ModeratorAccuracyMin,
		&st.SuspensionThreshold, &st.ModerationFeePerVote, &st.ModeratorMinimumEarnings,
		&st.MinimumWithdrawal, &st.BaseTaskPayment, &st.BonusTaskPayment,
		&st.ModerationTimeoutHours, &st.AllowTaskReservations, &st.MaintenanceMode,
		&st.UpdatedBy, &st.UpdatedAt)

	if err == sql.ErrNoRows {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	return st, nil
}

// Update replaces the singleton row (seeding it if absent) and invalidates
// the cache.
func (s *Store) Update(ctx context.Context, st Settings, updatedBy uuid.UUID) (Settings, error) {
	existing, err := s.load(ctx)
	if err != nil && err != ErrNotFound {
		return Settings{}, err
	}

	st.UpdatedBy = uuid.NullUUID{UUID: updatedBy, Valid: true}
	st.UpdatedAt = time.Now()

	if err == ErrNotFound {
		st.ID = uuid.New()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO platform_settings
			     (id, min_votes_required, max_votes_required, moderator_accuracy_min,
			      suspension_threshold, moderation_fee_per_vote, moderator_minimum_earnings,
			      minimum_withdrawal, base_task_payment, bonus_task_payment,
			      moderation_timeout_hours, allow_task_reservations, maintenance_mode,
			      updated_by, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			st.ID, st.MinVotesRequired, st.MaxVotesRequired, st.ModeratorAccuracyMin,
			st.SuspensionThreshold, st.ModerationFeePerVote, st.ModeratorMinimumEarnings,
			st.MinimumWithdrawal, st.BaseTaskPayment, st.BonusTaskPayment,
			st.ModerationTimeoutHours, st.AllowTaskReservations, st.MaintenanceMode,
			st.UpdatedBy, st.UpdatedAt,
		)
	} else {
		st.ID = existing.ID
		_, err = s.db.ExecContext(ctx,
			`UPDATE platform_settings
			 SET min_votes_required = $2, max_votes_required = $3, moderator_accuracy_min = $4,
			     suspension_threshold = $5, moderation_fee_per_vote = $6,
			     moderator_minimum_earnings = $7, minimum_withdrawal = $8,
			     base_task_payment = $9, bonus_task_payment = $10,
			     moderation_timeout_hours = $11, allow_task_reservations = $12,
			     maintenance_mode = $13, updated_by = $14, updated_at = $15
			 WHERE id = $1`,
			st.ID, st.MinVotesRequired, st.MaxVotesRequired, st.ModeratorAccuracyMin,
			st.SuspensionThreshold, st.ModerationFeePerVote, st.ModeratorMinimumEarnings,
			st.MinimumWithdrawal, st.BaseTaskPayment, st.BonusTaskPayment,
			st.ModerationTimeoutHours, st.AllowTaskReservations, st.MaintenanceMode,
			st.UpdatedBy, st.UpdatedAt,
		)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to update settings: %w", err)
	}

	if s.cache != nil {
		s.cache.Del(ctx, cacheKey)
	}

	return st, nil
}

// GetPublic returns the client-visible settings subset.
func (s *Store) GetPublic(ctx context.Context) (Public, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return Public{}, err
	}
	return Public{
		MinimumWithdrawal:        st.MinimumWithdrawal,
		BaseTaskPayment:          st.BaseTaskPayment,
		BonusTaskPayment:         st.BonusTaskPayment,
		ModerationFeePerVote:     st.ModerationFeePerVote,
		ModeratorMinimumEarnings: st.ModeratorMinimumEarnings,
		AllowTaskReservations:    st.AllowTaskReservations,
		MaintenanceMode:          st.MaintenanceMode,
	}, nil
}
