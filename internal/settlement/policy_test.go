package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/taskhive/taskhive/internal/votes"
)

var (
	basePay  = decimal.NewFromInt(1)
	bonusPay = decimal.NewFromInt(4)
)

func TestComputePayment(t *testing.T) {
	t.Run("approved base submission pays base only", func(t *testing.T) {
		payment, baseAwarded, bonusAwarded := ComputePayment(true, false, false, basePay, bonusPay)
		assert.True(t, payment.Equal(decimal.NewFromInt(1)))
		assert.True(t, baseAwarded)
		assert.False(t, bonusAwarded)
	})

	t.Run("approved bonus submission pays base plus bonus", func(t *testing.T) {
		payment, baseAwarded, bonusAwarded := ComputePayment(true, true, true, basePay, bonusPay)
		assert.True(t, payment.Equal(decimal.NewFromInt(5)))
		assert.True(t, baseAwarded)
		assert.True(t, bonusAwarded)
	})

	t.Run("bonus flag without screenshot pays base only", func(t *testing.T) {
		payment, baseAwarded, bonusAwarded := ComputePayment(true, true, false, basePay, bonusPay)
		assert.True(t, payment.Equal(decimal.NewFromInt(1)))
		assert.True(t, baseAwarded)
		assert.False(t, bonusAwarded)
	})

	t.Run("rejected submission pays nothing", func(t *testing.T) {
		payment, baseAwarded, bonusAwarded := ComputePayment(false, true, true, basePay, bonusPay)
		assert.True(t, payment.IsZero())
		assert.False(t, baseAwarded)
		assert.False(t, bonusAwarded)
	})
}

func TestEvaluateSuspension(t *testing.T) {
	const threshold = 0.25

	t.Run("no terminal submissions is never actioned", func(t *testing.T) {
		action, rate := EvaluateSuspension(0, 0, threshold)
		assert.Equal(t, SuspensionNone, action)
		assert.Zero(t, rate)
	})

	t.Run("rate above threshold suspends", func(t *testing.T) {
		// 3 of 9 rejected = 33%.
		action, rate := EvaluateSuspension(6, 3, threshold)
		assert.Equal(t, SuspensionSuspend, action)
		assert.InDelta(t, 1.0/3.0, rate, 1e-9)
	})

	t.Run("rate inside warning band warns", func(t *testing.T) {
		// 9 of 41 rejected = 21.95%, between 20% and 25%.
		action, rate := EvaluateSuspension(32, 9, threshold)
		assert.Equal(t, SuspensionWarn, action)
		assert.Greater(t, rate, threshold*WarningBand)
		assert.LessOrEqual(t, rate, threshold)
	})

	t.Run("rate at threshold warns rather than suspends", func(t *testing.T) {
		// Exactly 25%: suspension needs rate strictly above the threshold.
		action, rate := EvaluateSuspension(3, 1, threshold)
		assert.Equal(t, SuspensionWarn, action)
		assert.InDelta(t, 0.25, rate, 1e-9)
	})

	t.Run("low rate is untouched", func(t *testing.T) {
		action, _ := EvaluateSuspension(19, 1, threshold)
		assert.Equal(t, SuspensionNone, action)
	})
}

func TestVoteCorrect(t *testing.T) {
	assert.True(t, VoteCorrect(true, votes.DecisionApprove))
	assert.False(t, VoteCorrect(true, votes.DecisionReject))
	assert.True(t, VoteCorrect(false, votes.DecisionReject))
	assert.False(t, VoteCorrect(false, votes.DecisionApprove))
}

func TestShouldRevoke(t *testing.T) {
	const accuracyMin = 0.75

	t.Run("low accuracy with enough scored votes revokes", func(t *testing.T) {
		assert.True(t, ShouldRevoke(10, 0.6, accuracyMin))
	})

	t.Run("too few scored votes never revokes", func(t *testing.T) {
		assert.False(t, ShouldRevoke(9, 0.0, accuracyMin))
	})

	t.Run("accuracy at the minimum keeps eligibility", func(t *testing.T) {
		assert.False(t, ShouldRevoke(50, 0.75, accuracyMin))
	})

	t.Run("high accuracy keeps eligibility", func(t *testing.T) {
		assert.False(t, ShouldRevoke(100, 0.95, accuracyMin))
	})
}

func TestApprovalRate(t *testing.T) {
	assert.Zero(t, ApprovalRate(0, 0))
	assert.InDelta(t, 100, ApprovalRate(5, 0), 1e-9)
	assert.InDelta(t, 0, ApprovalRate(0, 5), 1e-9)
	assert.InDelta(t, 75, ApprovalRate(3, 1), 1e-9)
}

func TestExpireStaleIsANoOp(t *testing.T) {
	var e Engine
	n, err := e.ExpireStale(context.Background(), 24*time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
