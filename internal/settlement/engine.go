package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/internal/notifications"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/submissions"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/internal/votes"
	"github.com/taskhive/taskhive/pkg/messaging"
	"github.com/taskhive/taskhive/pkg/money"
)

// ErrAlreadyFinalized means another finalizer won the race; the caller
// should treat it as a no-op.
var ErrAlreadyFinalized = errors.New("submission already finalized")

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string)
}

// Engine performs the one-time atomic finalization of a resolved
// submission: payout, ledger counters, vote correctness, moderator
// accuracy, suspension policy and the task approval-rate recompute all
// commit together or not at all. Notifications and events go out only
// after the commit and never roll it back.
type Engine struct {
	db       *sql.DB
	subs     *submissions.Store
	ledger   *votes.Ledger
	notifier Notifier
	nats     *messaging.Client
	metrics  *metrics.Recorder
}

func NewEngine(db *sql.DB, subs *submissions.Store, ledger *votes.Ledger, notifier Notifier, nats *messaging.Client, rec *metrics.Recorder) *Engine {
	return &Engine{
		db:       db,
		subs:     subs,
		ledger:   ledger,
		notifier: notifier,
		nats:     nats,
		metrics:  rec,
	}
}

// Result summarizes a settlement.
type Result struct {
	SubmissionID uuid.UUID       `json:"submission_id"`
	Approved     bool            `json:"approved"`
	Payment      decimal.Decimal `json:"payment"`
	BonusAwarded bool            `json:"bonus_awarded"`
}

type pendingNotification struct {
	userID  uuid.UUID
	kind    string
	title   string
	message string
	link    string
}

type pendingEvent struct {
	subject string
	payload interface{}
}

// Finalize settles a submission as approved or rejected. Finalization only
// proceeds if the submission is still votable at the moment of the
// finalizing transaction; a racing finalizer observes the terminal state
// and returns ErrAlreadyFinalized without side effects.
func (e *Engine) Finalize(ctx context.Context, submissionID uuid.UUID, approved bool, st settings.Settings) (*Result, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := e.subs.GetForUpdateTx(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	if !sub.Votable() {
		return nil, ErrAlreadyFinalized
	}

	var basePayment, bonusPayment decimal.Decimal
	if err := tx.QueryRowContext(ctx,
		`SELECT base_payment, bonus_payment FROM tasks WHERE id = $1`,
		sub.TaskID,
	).Scan(&basePayment, &bonusPayment); err != nil {
		return nil, fmt.Errorf("failed to load task payments: %w", err)
	}

	hasBonusShot := sub.BonusScreenshotURL != nil && *sub.BonusScreenshotURL != ""
	payment, baseAwarded, bonusAwarded := ComputePayment(approved, sub.IsBonusSubmission, hasBonusShot, basePayment, bonusPayment)

	status := submissions.StatusRejected
	if approved {
		status = submissions.StatusApproved
	}

	// Conditional status transition is the idempotency guard; the row lock
	// above makes it redundant in the happy path but keeps the guarantee
	// even if the lock strategy changes.
	res, err := tx.ExecContext(ctx,
		`UPDATE task_submissions SET
		     status = $2, base_payment_awarded = $3, bonus_payment_awarded = $4,
		     total_payment = $5, needs_additional_votes = FALSE,
		     finalized_at = now(), version = version + 1
		 WHERE id = $1 AND status IN ($6, $7)`,
		sub.ID, status, baseAwarded, bonusAwarded, payment,
		submissions.StatusPendingModeration, submissions.StatusUnderReview,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize submission: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrAlreadyFinalized
	}

	var notes []pendingNotification
	var events []pendingEvent

	if approved {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET
			     pending_earnings = pending_earnings + $2,
			     total_earnings   = total_earnings + $2,
			     tasks_completed  = tasks_completed + 1,
			     updated_at       = now()
			 WHERE id = $1`,
			sub.UserID, payment,
		); err != nil {
			return nil, fmt.Errorf("failed to credit worker: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET approved_count = approved_count + 1, updated_at = now() WHERE id = $1`,
			sub.TaskID,
		); err != nil {
			return nil, fmt.Errorf("failed to bump task approvals: %w", err)
		}

		notes = append(notes, pendingNotification{
			userID:  sub.UserID,
			kind:    notifications.KindTaskApproved,
			title:   "Submission Approved!",
			message: fmt.Sprintf("Your submission was approved! You earned %s", money.FormatUSD(payment)),
			link:    "/submissions/" + sub.ID.String(),
		})
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET tasks_rejected = tasks_rejected + 1, updated_at = now() WHERE id = $1`,
			sub.UserID,
		); err != nil {
			return nil, fmt.Errorf("failed to bump worker rejections: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET rejected_count = rejected_count + 1, updated_at = now() WHERE id = $1`,
			sub.TaskID,
		); err != nil {
			return nil, fmt.Errorf("failed to bump task rejections: %w", err)
		}

		notes = append(notes, pendingNotification{
			userID:  sub.UserID,
			kind:    notifications.KindTaskRejected,
			title:   "Submission Rejected",
			message: "Your submission was rejected by moderators. You can appeal this decision.",
			link:    "/submissions/" + sub.ID.String(),
		})

		suspensionNotes, suspensionEvents, err := e.applySuspensionPolicy(ctx, tx, sub.UserID, st)
		if err != nil {
			return nil, err
		}
		notes = append(notes, suspensionNotes...)
		events = append(events, suspensionEvents...)
	}

	accuracyNotes, accuracyEvents, err := e.scoreVoters(ctx, tx, sub.ID, approved, st)
	if err != nil {
		return nil, err
	}
	notes = append(notes, accuracyNotes...)
	events = append(events, accuracyEvents...)

	approvedCount, rejectedCount, err := e.subs.TerminalCountsTx(ctx, tx, sub.TaskID)
	if err != nil {
		return nil, err
	}
	if approvedCount+rejectedCount > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET approval_rate = $2, updated_at = now() WHERE id = $1`,
			sub.TaskID, ApprovalRate(approvedCount, rejectedCount),
		); err != nil {
			return nil, fmt.Errorf("failed to update approval rate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	for _, n := range notes {
		e.notifier.Notify(ctx, n.userID, n.kind, n.title, n.message, n.link)
	}

	finalized := messaging.SubmissionFinalizedEvent{
		SubmissionID: sub.ID,
		TaskID:       sub.TaskID,
		UserID:       sub.UserID,
		Status:       status,
		TotalVotes:   sub.TotalVotes,
		ApproveVotes: sub.ApproveVotes,
		RejectVotes:  sub.RejectVotes,
		Payment:      payment.StringFixed(2),
		BonusAwarded: bonusAwarded,
		FinalizedAt:  time.Now(),
	}
	e.publish(ctx, messaging.EventTypeSubmissionFinalized, finalized)
	for _, ev := range events {
		e.publish(ctx, ev.subject, ev.payload)
	}

	e.metrics.RecordSettlement(status, payment)

	return &Result{
		SubmissionID: sub.ID,
		Approved:     approved,
		Payment:      payment,
		BonusAwarded: bonusAwarded,
	}, nil
}

// applySuspensionPolicy evaluates the just-rejected worker against the
// rejection-rate thresholds. Repeated over-threshold rejections re-extend
// the suspension and re-increment warnings; that is the intended policy.
func (e *Engine) applySuspensionPolicy(ctx context.Context, tx *sql.Tx, workerID uuid.UUID, st settings.Settings) ([]pendingNotification, []pendingEvent, error) {
	var completed, rejected int
	if err := tx.QueryRowContext(ctx,
		`SELECT tasks_completed, tasks_rejected FROM users WHERE id = $1`,
		workerID,
	).Scan(&completed, &rejected); err != nil {
		return nil, nil, fmt.Errorf("failed to load worker counters: %w", err)
	}

	action, rate := EvaluateSuspension(completed, rejected, st.SuspensionThreshold)
	switch action {
	case SuspensionSuspend:
		endsAt := time.Now().AddDate(0, 1, 0)
		reason := "High rejection rate: " + money.FormatPercent(rate)

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET account_status = $2, suspension_end_date = $3,
			     suspension_reason = $4, warnings_count = warnings_count + 1,
			     updated_at = now()
			 WHERE id = $1`,
			workerID, users.StatusSuspended, endsAt, reason,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to suspend worker: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO suspension_history (id, user_id, reason, suspended_by, suspension_type, ends_at)
			 VALUES ($1, $2, $3, 'SYSTEM', 'Auto', $4)`,
			uuid.New(), workerID, reason, endsAt,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to record suspension: %w", err)
		}

		note := pendingNotification{
			userID: workerID,
			kind:   notifications.KindSuspensionNotice,
			title:  "Account Suspended",
			message: fmt.Sprintf(
				"Your account has been suspended due to a high rejection rate (%s). Suspension ends on %s.",
				money.FormatPercent(rate), endsAt.Format("2006-01-02")),
		}
		event := pendingEvent{messaging.EventTypeUserSuspended, messaging.UserSuspendedEvent{
			UserID:         workerID,
			Reason:         reason,
			SuspendedBy:    "SYSTEM",
			SuspensionType: "Auto",
			EndsAt:         &endsAt,
		}}
		return []pendingNotification{note}, []pendingEvent{event}, nil

	case SuspensionWarn:
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET warnings_count = warnings_count + 1, updated_at = now() WHERE id = $1`,
			workerID,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to warn worker: %w", err)
		}

		note := pendingNotification{
			userID: workerID,
			kind:   notifications.KindSuspensionWarning,
			title:  "High Rejection Rate Warning",
			message: fmt.Sprintf(
				"Your rejection rate is %s. Please improve your submission quality to avoid suspension.",
				money.FormatPercent(rate)),
		}
		event := pendingEvent{messaging.EventTypeUserWarned, messaging.UserSuspendedEvent{
			UserID: workerID,
			Reason: "High rejection rate: " + money.FormatPercent(rate),
		}}
		return []pendingNotification{note}, []pendingEvent{event}, nil
	}

	return nil, nil, nil
}

// scoreVoters backfills the correctness flag on every vote for the
// submission and recomputes each voter's accuracy from their full scored
// history. Correctness is assigned per vote before the accuracy check, so
// a revocation mid-loop does not affect a later-processed vote in the same
// batch.
func (e *Engine) scoreVoters(ctx context.Context, tx *sql.Tx, submissionID uuid.UUID, finalApproved bool, st settings.Settings) ([]pendingNotification, []pendingEvent, error) {
	voteList, err := e.ledger.ListBySubmissionTx(ctx, tx, submissionID)
	if err != nil {
		return nil, nil, err
	}

	var notes []pendingNotification
	var events []pendingEvent

	for _, v := range voteList {
		correct := VoteCorrect(finalApproved, v.Decision)
		err := e.ledger.MarkCorrectnessTx(ctx, tx, v.ID, correct)
		if err != nil && err != votes.ErrVoteNotFound {
			return nil, nil, err
		}

		stats, err := e.ledger.ScoredStatsTx(ctx, tx, v.ModeratorID)
		if err != nil {
			return nil, nil, err
		}
		accuracy := stats.Accuracy()

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET moderator_accuracy = $2, updated_at = now() WHERE id = $1`,
			v.ModeratorID, accuracy,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to update moderator accuracy: %w", err)
		}

		if ShouldRevoke(stats.Total, accuracy, st.ModeratorAccuracyMin) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET can_moderate = FALSE, moderator_since = NULL,
				     warnings_count = warnings_count + 1, updated_at = now()
				 WHERE id = $1`,
				v.ModeratorID,
			); err != nil {
				return nil, nil, fmt.Errorf("failed to revoke moderation eligibility: %w", err)
			}

			notes = append(notes, pendingNotification{
				userID: v.ModeratorID,
				kind:   notifications.KindSuspensionWarning,
				title:  "Moderation Access Suspended",
				message: fmt.Sprintf(
					"Your moderation accuracy (%s) is below the required threshold. Moderation access has been revoked.",
					money.FormatPercent(accuracy)),
			})
			events = append(events, pendingEvent{messaging.EventTypeModeratorRevoked, messaging.ModeratorAccessEvent{
				UserID:      v.ModeratorID,
				CanModerate: false,
				Accuracy:    accuracy,
				Reason:      "accuracy below threshold",
			}})
		}
	}

	return notes, events, nil
}

// ExpireStale is the enforcement hook for moderation_timeout_hours. The
// setting exists but no auto-resolution policy has been decided for stale
// UnderReview submissions, so this intentionally does nothing yet.
// TODO: wire to a scheduler once product decides whether stale submissions
// auto-resolve or get escalated.
func (e *Engine) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func (e *Engine) publish(ctx context.Context, subject string, payload interface{}) {
	if e.nats == nil {
		return
	}
	if err := e.nats.Publish(ctx, subject, payload); err != nil {
		log.Printf("settlement event publish failed (%s): %v", subject, err)
	}
}
