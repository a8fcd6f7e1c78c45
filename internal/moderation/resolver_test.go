package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var defaultQuorum = Quorum{Min: 3, Max: 5}

func TestResolveBelowMinimum(t *testing.T) {
	t.Run("no votes stays pending", func(t *testing.T) {
		outcome := Resolve(Tally{}, defaultQuorum)
		assert.Equal(t, OutcomePending, outcome)
	})

	t.Run("two votes stays pending even when unanimous", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 2, Approve: 2}, defaultQuorum)
		assert.Equal(t, OutcomePending, outcome)
	})
}

func TestResolveMajority(t *testing.T) {
	t.Run("2-1 approves at minimum", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 3, Approve: 2, Reject: 1}, defaultQuorum)
		assert.Equal(t, OutcomeApproved, outcome)
	})

	t.Run("1-2 rejects at minimum", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 3, Approve: 1, Reject: 2}, defaultQuorum)
		assert.Equal(t, OutcomeRejected, outcome)
	})

	t.Run("3-0 approves unanimously", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 3, Approve: 3}, defaultQuorum)
		assert.Equal(t, OutcomeApproved, outcome)
	})

	t.Run("3-1 approves above minimum", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 4, Approve: 3, Reject: 1}, defaultQuorum)
		assert.Equal(t, OutcomeApproved, outcome)
	})

	t.Run("4-1 approves at ceiling", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 5, Approve: 4, Reject: 1}, defaultQuorum)
		assert.Equal(t, OutcomeApproved, outcome)
	})

	t.Run("2-3 rejects at ceiling", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 5, Approve: 2, Reject: 3}, defaultQuorum)
		assert.Equal(t, OutcomeRejected, outcome)
	})
}

func TestResolveTies(t *testing.T) {
	t.Run("2-2 below ceiling requests more votes", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 4, Approve: 2, Reject: 2}, defaultQuorum)
		assert.Equal(t, OutcomeNeedsMoreVotes, outcome)
		assert.False(t, outcome.Resolved())
	})

	t.Run("tie at an even ceiling rejects", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 4, Approve: 2, Reject: 2}, Quorum{Min: 3, Max: 4})
		assert.Equal(t, OutcomeRejected, outcome)
	})

	t.Run("3-3 past the ceiling rejects", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 6, Approve: 3, Reject: 3}, defaultQuorum)
		assert.Equal(t, OutcomeRejected, outcome)
	})
}

func TestResolveMajorityUsesCeilingHalf(t *testing.T) {
	// Majority is ceil(total/2): 3 of 5 resolves, 2 of 4 does not on its own.
	t.Run("3 of 5 approves", func(t *testing.T) {
		outcome := Resolve(Tally{Total: 5, Approve: 3, Reject: 2}, defaultQuorum)
		assert.Equal(t, OutcomeApproved, outcome)
	})

	t.Run("custom wider quorum", func(t *testing.T) {
		q := Quorum{Min: 5, Max: 9}
		assert.Equal(t, OutcomePending, Resolve(Tally{Total: 4, Approve: 4}, q))
		assert.Equal(t, OutcomeApproved, Resolve(Tally{Total: 5, Approve: 4, Reject: 1}, q))
		assert.Equal(t, OutcomeRejected, Resolve(Tally{Total: 5, Approve: 1, Reject: 4}, q))
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "pending", OutcomePending.String())
	assert.Equal(t, "needs_more_votes", OutcomeNeedsMoreVotes.String())
	assert.Equal(t, "approved", OutcomeApproved.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
}
