// Package ledger implements the availability ledger: per-event capacity
// counters arbitrating every reservation, confirmation, and release.
//
// All mutations for one event run inside that event's distributed lock and
// are written back with a compare-and-swap on the row version, so counter
// math is never exposed in an intermediate state. The ledger row is the sole
// source of truth for capacity; counters are never trusted beyond the
// request that read them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evently/booking-engine/internal/catalog"
	"github.com/evently/booking-engine/internal/lock"
	"github.com/evently/booking-engine/internal/model"
)

// Store persists availability rows. Update must apply only when the stored
// version equals expectedVersion and return model.ErrVersionConflict
// otherwise.
type Store interface {
	Get(ctx context.Context, eventID string) (*model.EventAvailability, error)
	Create(ctx context.Context, a *model.EventAvailability) error
	Update(ctx context.Context, a *model.EventAvailability, expectedVersion int64) error
}

// Cache is a short-TTL read cache for availability rows. A nil Cache is
// allowed; all methods are best-effort.
type Cache interface {
	Get(ctx context.Context, eventID string) (*model.EventAvailability, error)
	Set(ctx context.Context, a *model.EventAvailability) error
	Invalidate(ctx context.Context, eventID string) error
}

// casAttempts bounds re-reads when a CAS write loses to a lock-lease
// expiry race.
const casAttempts = 3

// Ledger arbitrates capacity for all events.
type Ledger struct {
	store   Store
	cache   Cache
	locks   lock.Locker
	catalog catalog.Source
	log     zerolog.Logger

	lockRetries int
	lockBackoff time.Duration

	mu       sync.Mutex
	poisoned map[string]bool
}

// New constructs a Ledger. lockRetries bounds how often a contended lock
// acquisition is retried before surfacing model.ErrLockContended.
func New(store Store, cache Cache, locks lock.Locker, cat catalog.Source, log zerolog.Logger, lockRetries int, lockBackoff time.Duration) *Ledger {
	if lockRetries < 1 {
		lockRetries = 1
	}
	return &Ledger{
		store:       store,
		cache:       cache,
		locks:       locks,
		catalog:     cat,
		log:         log,
		lockRetries: lockRetries,
		lockBackoff: lockBackoff,
		poisoned:    make(map[string]bool),
	}
}

func lockKey(eventID string) string { return "lock:event:" + eventID }

// TryReserve moves qty units from available to reserved for the event,
// lazily materializing the ledger row from the catalog on first use.
// It returns model.ErrInsufficientCapacity when fewer than qty units are
// available; it never partially grants a request.
func (l *Ledger) TryReserve(ctx context.Context, eventID string, qty int) (*model.EventAvailability, error) {
	return l.mutate(ctx, eventID, true, func(a *model.EventAvailability) error {
		if a.AvailableCapacity < qty {
			return model.ErrInsufficientCapacity
		}
		a.AvailableCapacity -= qty
		a.ReservedCapacity += qty
		return nil
	})
}

// Confirm transfers qty units from reserved to confirmed. It is not a fresh
// reservation and cannot fail for capacity reasons, only when the reserved
// bucket does not hold qty units.
func (l *Ledger) Confirm(ctx context.Context, eventID string, qty int) (*model.EventAvailability, error) {
	return l.mutate(ctx, eventID, false, func(a *model.EventAvailability) error {
		if a.ReservedCapacity < qty {
			return fmt.Errorf("confirm %d units with %d reserved: %w", qty, a.ReservedCapacity, model.ErrInvalidTransition)
		}
		a.ReservedCapacity -= qty
		a.ConfirmedCapacity += qty
		return nil
	})
}

// Release credits qty units from the given bucket back to available.
func (l *Ledger) Release(ctx context.Context, eventID string, qty int, from model.CapacityBucket) (*model.EventAvailability, error) {
	return l.mutate(ctx, eventID, false, func(a *model.EventAvailability) error {
		switch from {
		case model.BucketReserved:
			if a.ReservedCapacity < qty {
				return fmt.Errorf("release %d units with %d reserved: %w", qty, a.ReservedCapacity, model.ErrInvalidTransition)
			}
			a.ReservedCapacity -= qty
		case model.BucketConfirmed:
			if a.ConfirmedCapacity < qty {
				return fmt.Errorf("release %d units with %d confirmed: %w", qty, a.ConfirmedCapacity, model.ErrInvalidTransition)
			}
			a.ConfirmedCapacity -= qty
		default:
			return fmt.Errorf("unknown capacity bucket %q: %w", from, model.ErrInvalidTransition)
		}
		a.AvailableCapacity += qty
		return nil
	})
}

// UpdateTotalCapacity resizes the event's total capacity, preserving held
// units. Shrinking below reserved+confirmed is refused.
func (l *Ledger) UpdateTotalCapacity(ctx context.Context, eventID string, newTotal int) (*model.EventAvailability, error) {
	return l.mutate(ctx, eventID, false, func(a *model.EventAvailability) error {
		held := a.ReservedCapacity + a.ConfirmedCapacity
		if newTotal < held {
			return fmt.Errorf("capacity %d below %d held units: %w", newTotal, held, model.ErrInvalidTransition)
		}
		a.TotalCapacity = newTotal
		a.AvailableCapacity = newTotal - held
		return nil
	})
}

// Availability returns the current ledger row without taking the event lock,
// serving from the short-TTL cache when possible.
func (l *Ledger) Availability(ctx context.Context, eventID string) (*model.EventAvailability, error) {
	if l.cache != nil {
		if a, err := l.cache.Get(ctx, eventID); err == nil && a != nil {
			return a, nil
		}
	}
	a, err := l.store.Get(ctx, eventID)
	if errors.Is(err, model.ErrNotFound) {
		a, err = l.ensure(ctx, eventID)
	}
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, a); err != nil {
			l.log.Warn().Err(err).Str("event_id", eventID).Msg("availability cache set failed")
		}
	}
	return a, nil
}

// ensure materializes the ledger row for an event that has never been
// touched, without changing any counters.
func (l *Ledger) ensure(ctx context.Context, eventID string) (*model.EventAvailability, error) {
	var result *model.EventAvailability
	err := l.withEventLock(ctx, eventID, func(ctx context.Context) error {
		a, err := l.store.Get(ctx, eventID)
		if errors.Is(err, model.ErrNotFound) {
			a, err = l.materialize(ctx, eventID)
		}
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// mutate runs one locked read-modify-write cycle against the event's ledger
// row, incrementing the version and verifying the capacity invariant before
// the row is written back.
func (l *Ledger) mutate(ctx context.Context, eventID string, materialize bool, apply func(*model.EventAvailability) error) (*model.EventAvailability, error) {
	if l.isPoisoned(eventID) {
		return nil, fmt.Errorf("event %s: %w", eventID, model.ErrLedgerInconsistent)
	}

	var result *model.EventAvailability
	err := l.withEventLock(ctx, eventID, func(ctx context.Context) error {
		for attempt := 0; attempt < casAttempts; attempt++ {
			a, err := l.store.Get(ctx, eventID)
			if errors.Is(err, model.ErrNotFound) && materialize {
				a, err = l.materialize(ctx, eventID)
			}
			if err != nil {
				return err
			}

			if !a.Consistent() {
				l.poison(eventID, a)
				return fmt.Errorf("event %s: %w", eventID, model.ErrLedgerInconsistent)
			}

			updated := *a
			if err := apply(&updated); err != nil {
				return err
			}
			if !updated.Consistent() {
				l.poison(eventID, &updated)
				return fmt.Errorf("event %s: %w", eventID, model.ErrLedgerInconsistent)
			}

			updated.Version = a.Version + 1
			updated.LastUpdated = time.Now().UTC()

			err = l.store.Update(ctx, &updated, a.Version)
			if errors.Is(err, model.ErrVersionConflict) {
				// Another holder slipped in past an expired lease; re-read.
				continue
			}
			if err != nil {
				return err
			}
			result = &updated
			return nil
		}
		return model.ErrVersionConflict
	})
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if cerr := l.cache.Invalidate(ctx, eventID); cerr != nil {
			l.log.Warn().Err(cerr).Str("event_id", eventID).Msg("availability cache invalidation failed")
		}
	}
	return result, nil
}

// materialize creates the ledger row from catalog capacity. Called under the
// event lock, so at most one creator wins; a concurrent create is folded into
// a fresh read.
func (l *Ledger) materialize(ctx context.Context, eventID string) (*model.EventAvailability, error) {
	info, err := l.catalog.EventInfo(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if info.Status != catalog.EventStatusPublished {
		return nil, fmt.Errorf("event %s is %s: %w", eventID, info.Status, model.ErrInvalidTransition)
	}

	a := &model.EventAvailability{
		EventID:           eventID,
		TotalCapacity:     info.TotalCapacity,
		AvailableCapacity: info.TotalCapacity,
		PriceCents:        info.PriceCents,
		Version:           1,
		LastUpdated:       time.Now().UTC(),
	}
	if err := l.store.Create(ctx, a); err != nil {
		if errors.Is(err, model.ErrVersionConflict) {
			return l.store.Get(ctx, eventID)
		}
		return nil, err
	}
	l.log.Info().Str("event_id", eventID).Int("total_capacity", a.TotalCapacity).
		Msg("availability ledger materialized from catalog")
	return a, nil
}

func (l *Ledger) withEventLock(ctx context.Context, eventID string, fn func(context.Context) error) error {
	key := lockKey(eventID)
	backoff := l.lockBackoff

	for attempt := 1; ; attempt++ {
		handle, err := l.locks.Acquire(ctx, key)
		if errors.Is(err, model.ErrLockContended) && attempt < l.lockRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		if err != nil {
			return err
		}

		fnErr := fn(ctx)
		if rerr := handle.Release(ctx); rerr != nil {
			l.log.Warn().Err(rerr).Str("event_id", eventID).Msg("event lock release failed")
		}
		return fnErr
	}
}

func (l *Ledger) isPoisoned(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poisoned[eventID]
}

// poison fences an event off from further ledger mutation after an invariant
// violation. This is an alert condition, not a recoverable error.
func (l *Ledger) poison(eventID string, a *model.EventAvailability) {
	l.mu.Lock()
	l.poisoned[eventID] = true
	l.mu.Unlock()

	l.log.Error().
		Str("event_id", eventID).
		Int("total", a.TotalCapacity).
		Int("available", a.AvailableCapacity).
		Int("reserved", a.ReservedCapacity).
		Int("confirmed", a.ConfirmedCapacity).
		Msg("ALERT: availability counters inconsistent, event fenced off")
}
