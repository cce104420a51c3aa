package shop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRefunded, false},
		{StatusPaid, StatusRefunded, true},
		{StatusPaid, StatusFailed, false},
		{StatusPaid, StatusCancelled, false},
		{StatusFailed, StatusPaid, false},
		{StatusCancelled, StatusPaid, false},
		{StatusRefunded, StatusPending, false},
		{StatusPaid, StatusPaid, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusPaid.Terminal(), "paid can still be refunded")
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRefunded.Terminal())
}

func TestRestoresStock(t *testing.T) {
	assert.False(t, StatusPending.RestoresStock())
	assert.False(t, StatusPaid.RestoresStock())
	assert.True(t, StatusFailed.RestoresStock())
	assert.True(t, StatusCancelled.RestoresStock())
	assert.True(t, StatusRefunded.RestoresStock())
}
