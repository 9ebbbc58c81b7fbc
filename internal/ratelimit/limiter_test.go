package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstPerKey(t *testing.T) {
	l := NewLimiter(1, 2)
	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	// Other clients have their own bucket.
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 1, l.PerHour())
}

func TestLimiterRefills(t *testing.T) {
	l := NewLimiter(3600, 1)
	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestLimiterForget(t *testing.T) {
	l := NewLimiter(100, 10)
	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(time.Hour)
	l.Allow("new")

	assert.Equal(t, 1, l.Forget(30*time.Minute))
	assert.Equal(t, 1, l.Len())
	assert.InDelta(t, 9, l.Tokens("new"), 0.01)
}
