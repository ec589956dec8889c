package loadmanager

import (
	"context"
	"sync/atomic"

	"github.com/llmfleet/router/internal/platform/apperrors"
)

// WaitForReady blocks until AllInitializing() becomes false, ctx is
// canceled, or the bounded waiter count is already exhausted. It
// implements the warm-up admission queue described in spec §4.2: a
// bounded-counter admission gate plus a broadcast wake on every
// initializing→ready transition, rather than a poll loop per waiter.
func (m *Manager) WaitForReady(ctx context.Context) error {
	if !m.AllInitializing() {
		return nil
	}

	n := atomic.AddInt64(&m.waiterCount, 1)
	defer atomic.AddInt64(&m.waiterCount, -1)
	if n > int64(m.maxWaiters) {
		return apperrors.WarmingUp()
	}

	for {
		m.readyMu.Lock()
		ch := m.readyChan
		m.readyMu.Unlock()

		if !m.AllInitializing() {
			return nil
		}

		select {
		case <-ctx.Done():
			return apperrors.Wrap(apperrors.ErrCodeTimeout, "timed out waiting for a ready node", 504, ctx.Err())
		case <-ch:
			// Loop: re-check AllInitializing, since a broadcast can race
			// with another node entering warm-up.
		}
	}
}

// WaiterCount reports the current admission-queue occupancy (for the
// dashboard and /health).
func (m *Manager) WaiterCount() int64 {
	return atomic.LoadInt64(&m.waiterCount)
}

// notifyReady wakes every current WaitForReady caller by closing and
// replacing the shared channel.
func (m *Manager) notifyReady() {
	m.readyMu.Lock()
	defer m.readyMu.Unlock()
	close(m.readyChan)
	m.readyChan = make(chan struct{})
}
