package submissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVotable(t *testing.T) {
	assert.True(t, (&Submission{Status: StatusPendingModeration}).Votable())
	assert.True(t, (&Submission{Status: StatusUnderReview}).Votable())
	assert.False(t, (&Submission{Status: StatusApproved}).Votable())
	assert.False(t, (&Submission{Status: StatusRejected}).Votable())
}

func TestTerminal(t *testing.T) {
	assert.False(t, (&Submission{Status: StatusPendingModeration}).Terminal())
	assert.False(t, (&Submission{Status: StatusUnderReview}).Terminal())
	assert.True(t, (&Submission{Status: StatusApproved}).Terminal())
	assert.True(t, (&Submission{Status: StatusRejected}).Terminal())
}
