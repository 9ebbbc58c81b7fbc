package session

import (
	"context"
	"errors"
	"time"
)

var (
	errIdle     = errors.New("session idle timeout")
	errShutdown = errors.New("server shutting down")
)

// Run expires idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 || m.opts.SweepInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.WithField("expired", n).Info("expired idle sessions")
			}
		}
	}
}

// Sweep tears down every non-terminal session idle for longer than
// IdleTimeout and returns how many it expired. Sessions busy with an
// operation are left alone.
func (m *Manager) Sweep() int {
	expired := 0
	for _, sess := range m.store.List() {
		if !m.idle(sess) {
			continue
		}
		if !sess.op.TryLock() {
			continue
		}
		if m.idle(sess) {
			m.fail(sess, ReasonExpired, errIdle)
			expired++
		}
		sess.op.Unlock()
	}
	return expired
}

func (m *Manager) idle(sess *Session) bool {
	if sess.State().Terminal() {
		return false
	}
	return m.now().Sub(sess.LastActive()) >= m.opts.IdleTimeout
}

// Shutdown tears down every live session. A session in the middle of an
// operation loses its browser and fails at its next step.
func (m *Manager) Shutdown() {
	for _, sess := range m.store.List() {
		m.fail(sess, ReasonCanceled, errShutdown)
	}
}
