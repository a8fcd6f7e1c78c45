package users

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRejectionRate(t *testing.T) {
	t.Run("no terminal submissions", func(t *testing.T) {
		u := &User{}
		assert.Zero(t, u.RejectionRate())
	})

	t.Run("derived from counters", func(t *testing.T) {
		u := &User{TasksCompleted: 6, TasksRejected: 3}
		assert.InDelta(t, 1.0/3.0, u.RejectionRate(), 1e-9)
	})

	t.Run("all rejected", func(t *testing.T) {
		u := &User{TasksRejected: 4}
		assert.InDelta(t, 1.0, u.RejectionRate(), 1e-9)
	})
}

func TestSuspended(t *testing.T) {
	assert.False(t, (&User{AccountStatus: StatusActive}).Suspended())
	assert.True(t, (&User{AccountStatus: StatusSuspended}).Suspended())
	assert.True(t, (&User{AccountStatus: StatusBanned}).Suspended())
}
