package votes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoredStatsAccuracy(t *testing.T) {
	t.Run("unscored moderator has zero accuracy", func(t *testing.T) {
		assert.Zero(t, ScoredStats{}.Accuracy())
	})

	t.Run("accuracy is correct over total", func(t *testing.T) {
		assert.InDelta(t, 0.6, ScoredStats{Total: 10, Correct: 6}.Accuracy(), 1e-9)
	})

	t.Run("perfect record", func(t *testing.T) {
		assert.InDelta(t, 1.0, ScoredStats{Total: 25, Correct: 25}.Accuracy(), 1e-9)
	})
}
