package settings

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	st := Defaults()

	assert.Equal(t, 3, st.MinVotesRequired)
	assert.Equal(t, 5, st.MaxVotesRequired)
	assert.InDelta(t, 0.75, st.ModeratorAccuracyMin, 1e-9)
	assert.InDelta(t, 0.25, st.SuspensionThreshold, 1e-9)
	assert.True(t, st.ModerationFeePerVote.Equal(decimal.NewFromFloat(0.05)))
	assert.True(t, st.ModeratorMinimumEarnings.Equal(decimal.NewFromInt(25)))
	assert.True(t, st.MinimumWithdrawal.Equal(decimal.NewFromInt(10)))
	assert.True(t, st.BaseTaskPayment.Equal(decimal.NewFromInt(1)))
	assert.True(t, st.BonusTaskPayment.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, 24, st.ModerationTimeoutHours)
}
