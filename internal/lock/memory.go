package lock

import (
	"context"
	"sync"
	"time"

	"github.com/evently/booking-engine/internal/model"
)

// Memory is an in-process Locker for tests and single-instance deployments.
// It honors the same acquire-timeout contract as the Redis-backed Manager
// but has no lease expiry: locks are held until released.
type Memory struct {
	mu             sync.Mutex
	held           map[string]bool
	acquireTimeout time.Duration
}

// NewMemory constructs an in-process Locker.
func NewMemory(acquireTimeout time.Duration) *Memory {
	return &Memory{held: make(map[string]bool), acquireTimeout: acquireTimeout}
}

// Acquire obtains the lock for key, blocking up to the acquire timeout.
func (m *Memory) Acquire(ctx context.Context, key string) (Handle, error) {
	deadline := time.Now().Add(m.acquireTimeout)
	for {
		m.mu.Lock()
		if !m.held[key] {
			m.held[key] = true
			m.mu.Unlock()
			return &memoryHandle{parent: m, key: key}, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, model.ErrLockContended
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

type memoryHandle struct {
	parent *Memory
	key    string
}

func (h *memoryHandle) Release(context.Context) error {
	h.parent.mu.Lock()
	delete(h.parent.held, h.key)
	h.parent.mu.Unlock()
	return nil
}

func (h *memoryHandle) Renew(context.Context) error { return nil }
