// Package lock provides the per-event distributed mutual-exclusion lock.
//
// The lock is lease-based: a holder that crashes loses the lock when the
// lease expires, so a failed process can never deadlock an event. Holders
// performing slow work must Renew before the lease runs out.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evently/booking-engine/internal/model"
)

// Handle is a held lock. Release returns the lock; Renew extends its lease.
type Handle interface {
	Release(ctx context.Context) error
	Renew(ctx context.Context) error
}

// Locker acquires event-scoped locks. Acquire blocks up to the manager's
// acquire timeout and returns model.ErrLockContended when the lock could not
// be obtained in time.
type Locker interface {
	Acquire(ctx context.Context, key string) (Handle, error)
}

// Release and renew must only act on a lock still owned by this handle, so
// both compare the stored owner token before mutating the key.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	renewScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// Manager is the Redis-backed Locker used across process instances.
type Manager struct {
	client         *redis.Client
	lease          time.Duration
	acquireTimeout time.Duration
	pollInterval   time.Duration
}

// NewManager constructs a Manager. lease is how long an unreleased lock
// survives; acquireTimeout bounds how long Acquire blocks waiting for a
// contended lock.
func NewManager(client *redis.Client, lease, acquireTimeout time.Duration) *Manager {
	return &Manager{
		client:         client,
		lease:          lease,
		acquireTimeout: acquireTimeout,
		pollInterval:   50 * time.Millisecond,
	}
}

// Acquire obtains the lock for key, blocking up to the acquire timeout.
func (m *Manager) Acquire(ctx context.Context, key string) (Handle, error) {
	owner := uuid.New().String()
	deadline := time.Now().Add(m.acquireTimeout)

	for {
		ok, err := m.client.SetNX(ctx, key, owner, m.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisHandle{client: m.client, key: key, owner: owner, lease: m.lease}, nil
		}
		if time.Now().After(deadline) {
			return nil, model.ErrLockContended
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

type redisHandle struct {
	client *redis.Client
	key    string
	owner  string
	lease  time.Duration
}

func (h *redisHandle) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, h.client, []string{h.key}, h.owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", h.key, err)
	}
	return nil
}

func (h *redisHandle) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, h.client, []string{h.key}, h.owner, h.lease.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lock %s: %w", h.key, err)
	}
	if n == 0 {
		return fmt.Errorf("renew lock %s: lease already expired", h.key)
	}
	return nil
}
