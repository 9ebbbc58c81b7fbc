package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	a := newSession("a", "alice", nil, time.Now())
	b := newSession("b", "bob", nil, time.Now())

	store.Put(a)
	store.Put(b)
	require.Equal(t, 2, store.Len())

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.True(t, store.Delete("a"))
	assert.False(t, store.Delete("a"))
	_, ok = store.Get("a")
	assert.False(t, ok)

	assert.Equal(t, []*Session{b}, store.List())
}

func TestSessionTerminalStateIsFinal(t *testing.T) {
	now := time.Now()
	s := newSession("a", "alice", nil, now)

	require.True(t, s.setState(StateOTPRequired, now))
	assert.True(t, s.markFailed(ReasonOTPTimeout, now))
	assert.False(t, s.markFailed(ReasonExpired, now))
	assert.False(t, s.setState(StateScraping, now))
	assert.False(t, s.markDone(now))

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, ReasonOTPTimeout, snap.Reason)
}
