package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evently/booking-engine/internal/ledger"
	"github.com/evently/booking-engine/internal/lock"
	"github.com/evently/booking-engine/internal/model"
)

// defaultPriority is assigned to entries joining without an explicit
// priority. Admin-assigned priorities below it rank ahead of regular joins;
// anything above it ranks behind.
const defaultPriority = 100

// WaitlistStore persists waitlist entries with compare-and-swap updates.
type WaitlistStore interface {
	Create(ctx context.Context, w *model.WaitlistEntry) error
	Get(ctx context.Context, id string) (*model.WaitlistEntry, error)
	Update(ctx context.Context, w *model.WaitlistEntry, expectedVersion int64) error
	ActiveForUser(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error)
	PendingForEvent(ctx context.Context, eventID string) ([]model.WaitlistEntry, error)
	ActiveForEvent(ctx context.Context, eventID string) ([]model.WaitlistEntry, error)
	ListByUser(ctx context.Context, userID string) ([]model.WaitlistEntry, error)
	ListExpiredNotified(ctx context.Context, cutoff time.Time, limit int) ([]model.WaitlistEntry, error)
}

// WaitlistService manages the per-event overflow queue: joining at zero
// availability, promotion when capacity frees up, and the acceptance window
// on offers.
//
// Queue mutation and promotion serialize on a per-event waitlist lock that is
// distinct from the ledger's event lock. Promotion holds the waitlist lock
// and takes the ledger lock per entry it offers to, never both for the whole
// pass; the entry version CAS is the second guard against a lapsed lease.
type WaitlistService struct {
	entries   WaitlistStore
	audit     AuditStore
	ledger    *ledger.Ledger
	locks     lock.Locker
	bookings  *BookingService
	publisher Publisher
	log       zerolog.Logger

	notificationWindow time.Duration
	now                func() time.Time
}

// NewWaitlist constructs a WaitlistService. notificationWindow is how long a
// promoted entry may claim its offer before the held units are re-offered.
func NewWaitlist(entries WaitlistStore, audit AuditStore, led *ledger.Ledger, locks lock.Locker, bookings *BookingService, pub Publisher, log zerolog.Logger, notificationWindow time.Duration) *WaitlistService {
	return &WaitlistService{
		entries:            entries,
		audit:              audit,
		ledger:             led,
		locks:              locks,
		bookings:           bookings,
		publisher:          pub,
		log:                log,
		notificationWindow: notificationWindow,
		now:                time.Now,
	}
}

func waitlistLockKey(eventID string) string { return "lock:waitlist:" + eventID }

func (s *WaitlistService) withQueueLock(ctx context.Context, eventID string, fn func(context.Context) error) error {
	handle, err := s.locks.Acquire(ctx, waitlistLockKey(eventID))
	if err != nil {
		return err
	}
	fnErr := fn(ctx)
	if rerr := handle.Release(ctx); rerr != nil {
		s.log.Warn().Err(rerr).Str("event_id", eventID).Msg("waitlist lock release failed")
	}
	return fnErr
}

// Join enqueues a user for an event that has no spare capacity. A user holds
// at most one active entry per event, and joining is refused while units are
// still directly bookable.
func (s *WaitlistService) Join(ctx context.Context, userID string, req model.JoinWaitlistRequest) (*model.WaitlistEntry, error) {
	var entry *model.WaitlistEntry
	err := s.withQueueLock(ctx, req.EventID, func(ctx context.Context) error {
		if _, err := s.entries.ActiveForUser(ctx, req.EventID, userID); err == nil {
			return fmt.Errorf("already on the waitlist for this event: %w", model.ErrInvalidTransition)
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		avail, err := s.ledger.Availability(ctx, req.EventID)
		if err != nil {
			return err
		}
		if avail.AvailableCapacity >= req.Quantity {
			return fmt.Errorf("capacity is still available, book directly: %w", model.ErrInvalidTransition)
		}

		priority := req.Priority
		if priority == 0 {
			priority = defaultPriority
		}

		now := s.now().UTC()
		entry = &model.WaitlistEntry{
			ID:        uuid.New().String(),
			UserID:    userID,
			EventID:   req.EventID,
			Quantity:  req.Quantity,
			Priority:  priority,
			Status:    model.WaitlistPending,
			JoinedAt:  now,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		if err := s.entries.Create(ctx, entry); err != nil {
			return err
		}
		s.recordTransition(ctx, entry, "", userID, "joined waitlist")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Promote walks the event's pending queue in (priority, joined_at) order and
// offers freed capacity. An entry whose quantity does not fit is skipped in
// favor of later entries that do; its place in line is unchanged. Offered
// units are reserved in the ledger immediately, so an offer cannot be
// contradicted at acceptance time.
func (s *WaitlistService) Promote(ctx context.Context, eventID string) error {
	return s.withQueueLock(ctx, eventID, func(ctx context.Context) error {
		return s.promoteLocked(ctx, eventID)
	})
}

func (s *WaitlistService) promoteLocked(ctx context.Context, eventID string) error {
	pending, err := s.entries.PendingForEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	avail, err := s.ledger.Availability(ctx, eventID)
	if err != nil {
		return err
	}
	free := avail.AvailableCapacity

	for i := range pending {
		if free <= 0 {
			break
		}
		entry := pending[i]
		if entry.Quantity > free {
			continue
		}

		snapshot, err := s.ledger.TryReserve(ctx, eventID, entry.Quantity)
		if errors.Is(err, model.ErrInsufficientCapacity) {
			// Direct bookings raced in since the availability read.
			break
		}
		if err != nil {
			return err
		}
		free = snapshot.AvailableCapacity

		now := s.now().UTC()
		expires := now.Add(s.notificationWindow)
		updated := entry
		updated.Status = model.WaitlistNotified
		updated.NotifiedAt = &now
		updated.ExpiresAt = &expires
		updated.UpdatedAt = now
		updated.Version = entry.Version + 1

		if err := s.entries.Update(ctx, &updated, entry.Version); err != nil {
			// The entry moved underneath us (usually a user
			// cancellation). Hand the units back and move on.
			if _, rerr := s.ledger.Release(ctx, eventID, entry.Quantity, model.BucketReserved); rerr != nil {
				s.log.Error().Err(rerr).Str("entry_id", entry.ID).Msg("failed to release offer hold")
			}
			continue
		}

		s.recordTransition(ctx, &updated, string(model.WaitlistPending), "system", "capacity offered")
		s.log.Info().Str("entry_id", updated.ID).Str("event_id", eventID).
			Int("quantity", updated.Quantity).Time("expires_at", expires).
			Msg("waitlist entry promoted")
	}
	return nil
}

// Accept converts a live offer into a pending booking. The offered units are
// already reserved, so no second pass through capacity arbitration happens
// and acceptance cannot fail for capacity reasons.
func (s *WaitlistService) Accept(ctx context.Context, userID, entryID string) (*model.Booking, error) {
	var booking *model.Booking
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, model.ErrNotFound
	}

	err = s.withQueueLock(ctx, entry.EventID, func(ctx context.Context) error {
		entry, err = s.entries.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != model.WaitlistNotified {
			return fmt.Errorf("accept from %s: %w", entry.Status, model.ErrInvalidTransition)
		}
		if entry.NotificationExpiredAt(s.now()) {
			if err := s.expireNotifiedLocked(ctx, entry); err != nil {
				return err
			}
			return fmt.Errorf("offer window closed: %w", model.ErrInvalidTransition)
		}

		avail, err := s.ledger.Availability(ctx, entry.EventID)
		if err != nil {
			return err
		}
		amount := int64(entry.Quantity) * avail.PriceCents

		booking, err = s.bookings.createHeld(ctx, userID, entry.EventID, entry.Quantity, amount)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		updated := *entry
		updated.Status = model.WaitlistBooked
		updated.BookedAt = &now
		updated.ExpiresAt = nil
		updated.BookingReference = booking.BookingReference
		updated.UpdatedAt = now
		updated.Version = entry.Version + 1
		if err := s.entries.Update(ctx, &updated, entry.Version); err != nil {
			return err
		}
		s.recordTransition(ctx, &updated, string(model.WaitlistNotified), userID, "offer accepted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// CancelEntry removes a user's entry from the queue. Cancelling a live offer
// hands the held units back and re-offers them down the queue.
func (s *WaitlistService) CancelEntry(ctx context.Context, userID, entryID, reason string) (*model.WaitlistEntry, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, model.ErrNotFound
	}

	var updated *model.WaitlistEntry
	err = s.withQueueLock(ctx, entry.EventID, func(ctx context.Context) error {
		entry, err = s.entries.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if !entry.Active() {
			return fmt.Errorf("cancel from %s: %w", entry.Status, model.ErrInvalidTransition)
		}
		wasNotified := entry.Status == model.WaitlistNotified

		now := s.now().UTC()
		next := *entry
		next.Status = model.WaitlistCancelled
		next.CancelledAt = &now
		next.ExpiresAt = nil
		next.UpdatedAt = now
		next.Version = entry.Version + 1
		if err := s.entries.Update(ctx, &next, entry.Version); err != nil {
			return err
		}
		updated = &next
		s.recordTransition(ctx, &next, string(entry.Status), userID, reason)

		if wasNotified {
			if _, err := s.ledger.Release(ctx, entry.EventID, entry.Quantity, model.BucketReserved); err != nil {
				s.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to release cancelled offer hold")
				return nil
			}
			if err := s.promoteLocked(ctx, entry.EventID); err != nil {
				s.log.Warn().Err(err).Str("event_id", entry.EventID).Msg("re-offer after cancellation failed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// expireNotifiedLocked closes one lapsed offer: the entry goes to expired,
// its held units return to the ledger, and the queue is walked again.
// Caller holds the event's waitlist lock.
func (s *WaitlistService) expireNotifiedLocked(ctx context.Context, entry *model.WaitlistEntry) error {
	now := s.now().UTC()
	updated := *entry
	updated.Status = model.WaitlistExpired
	updated.ExpiresAt = nil
	updated.UpdatedAt = now
	updated.Version = entry.Version + 1

	err := s.entries.Update(ctx, &updated, entry.Version)
	if errors.Is(err, model.ErrVersionConflict) {
		// Accepted or cancelled in the meantime; nothing to reclaim.
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.ledger.Release(ctx, entry.EventID, entry.Quantity, model.BucketReserved); err != nil {
		s.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to release expired offer hold")
	}
	s.recordTransition(ctx, &updated, string(model.WaitlistNotified), "system", "offer window expired")

	if err := s.promoteLocked(ctx, entry.EventID); err != nil {
		s.log.Warn().Err(err).Str("event_id", entry.EventID).Msg("re-offer after offer expiry failed")
	}
	return nil
}

// ExpireDueNotifications sweeps one batch of lapsed offers and returns how
// many were closed.
func (s *WaitlistService) ExpireDueNotifications(ctx context.Context, batchSize int) (int, error) {
	due, err := s.entries.ListExpiredNotified(ctx, s.now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}
	closed := 0
	for i := range due {
		entry := due[i]
		err := s.withQueueLock(ctx, entry.EventID, func(ctx context.Context) error {
			fresh, err := s.entries.Get(ctx, entry.ID)
			if err != nil {
				return err
			}
			if !fresh.NotificationExpiredAt(s.now()) {
				return nil
			}
			closed++
			return s.expireNotifiedLocked(ctx, fresh)
		})
		if err != nil {
			s.log.Error().Err(err).Str("entry_id", entry.ID).Msg("sweeper failed to expire offer")
		}
	}
	return closed, nil
}

// Get returns a waitlist entry by ID, restricted to its owner.
func (s *WaitlistService) Get(ctx context.Context, userID, entryID string) (*model.WaitlistEntry, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, model.ErrNotFound
	}
	return entry, nil
}

// Position returns the entry's 1-based place among the event's active
// entries, in promotion order.
func (s *WaitlistService) Position(ctx context.Context, userID, entryID string) (int, error) {
	entry, err := s.Get(ctx, userID, entryID)
	if err != nil {
		return 0, err
	}
	if !entry.Active() {
		return 0, fmt.Errorf("entry is %s: %w", entry.Status, model.ErrInvalidTransition)
	}
	active, err := s.entries.ActiveForEvent(ctx, entry.EventID)
	if err != nil {
		return 0, err
	}
	for i := range active {
		if active[i].ID == entryID {
			return i + 1, nil
		}
	}
	return 0, model.ErrNotFound
}

// ListForUser returns all of a user's waitlist entries, newest first.
func (s *WaitlistService) ListForUser(ctx context.Context, userID string) ([]model.WaitlistEntry, error) {
	return s.entries.ListByUser(ctx, userID)
}

// EventQueue returns the full active queue for an event in promotion order.
// Admin surface.
func (s *WaitlistService) EventQueue(ctx context.Context, eventID string) ([]model.WaitlistEntry, error) {
	return s.entries.ActiveForEvent(ctx, eventID)
}

func (s *WaitlistService) recordTransition(ctx context.Context, w *model.WaitlistEntry, oldStatus, actor, reason string) {
	err := s.audit.Append(ctx, &model.AuditLog{
		EntityType: model.EntityWaitlist,
		EntityID:   w.ID,
		Action:     string(w.Status),
		OldValue:   oldStatus,
		NewValue:   string(w.Status),
		ChangedBy:  actor,
		Reason:     reason,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("entry_id", w.ID).Msg("audit append failed")
	}

	if s.publisher == nil {
		return
	}
	err = s.publisher.Publish(ctx, model.LifecycleEvent{
		EntityType: model.EntityWaitlist,
		EntityID:   w.ID,
		EventID:    w.EventID,
		OldStatus:  oldStatus,
		NewStatus:  string(w.Status),
		Version:    w.Version,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("entry_id", w.ID).Msg("lifecycle publish failed")
	}
}
