package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$1.05", FormatUSD(decimal.NewFromFloat(1.05)))
	assert.Equal(t, "$0.05", FormatUSD(decimal.NewFromFloat(0.05)))
	assert.Equal(t, "$25.00", FormatUSD(decimal.NewFromInt(25)))
	assert.Equal(t, "$0.00", FormatUSD(decimal.Zero))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "33.33%", FormatPercent(1.0/3.0))
	assert.Equal(t, "25.00%", FormatPercent(0.25))
	assert.Equal(t, "0.00%", FormatPercent(0))
}

func TestParse(t *testing.T) {
	t.Run("parses and rounds to cents", func(t *testing.T) {
		d, err := Parse("10.456")
		require.NoError(t, err)
		assert.True(t, d.Equal(decimal.NewFromFloat(10.46)))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := Parse("ten dollars")
		assert.Error(t, err)
	})
}

func TestRepeatedFeeAccumulation(t *testing.T) {
	// 100 votes at $0.05 must be exactly $5.00.
	fee := decimal.NewFromFloat(0.05)
	total := decimal.Zero
	for i := 0; i < 100; i++ {
		total = total.Add(fee)
	}
	assert.Equal(t, "$5.00", FormatUSD(total))
	assert.True(t, total.Equal(decimal.NewFromInt(5)))
}

func TestFromFloat(t *testing.T) {
	assert.True(t, FromFloat(0.05).Equal(decimal.NewFromFloat(0.05)))
	assert.True(t, FromFloat(33.333).Equal(decimal.NewFromFloat(33.33)))
	assert.True(t, FromFloat(2.5).Equal(decimal.NewFromFloat(2.5)))
}
