// Package service contains the business logic for bookings and the waitlist:
// the lifecycle state machines, the hold-and-confirm flow against the
// availability ledger, and waitlist promotion.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evently/booking-engine/internal/ledger"
	"github.com/evently/booking-engine/internal/model"
)

// BookingStore persists bookings with compare-and-swap updates.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	Get(ctx context.Context, id string) (*model.Booking, error)
	ReferenceExists(ctx context.Context, ref string) (bool, error)
	Update(ctx context.Context, b *model.Booking, expectedVersion int64) error
	ListByUser(ctx context.Context, userID string) ([]model.Booking, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error)
}

// AuditStore records the append-only transition trail.
type AuditStore interface {
	Append(ctx context.Context, a *model.AuditLog) error
	ListForEntity(ctx context.Context, entityType, entityID string) ([]model.AuditLog, error)
}

// Publisher delivers lifecycle events downstream, best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev model.LifecycleEvent) error
}

// Promoter offers freed capacity to the event's waitlist.
type Promoter interface {
	Promote(ctx context.Context, eventID string) error
}

// systemRetries bounds re-reads for system-initiated updates that lose a
// version race. Caller-supplied versions are never retried.
const systemRetries = 3

// BookingService drives the booking lifecycle: pending holds, confirmation,
// cancellation with capacity release, and expiry.
type BookingService struct {
	bookings  BookingStore
	audit     AuditStore
	ledger    *ledger.Ledger
	publisher Publisher
	promoter  Promoter
	log       zerolog.Logger

	holdDuration time.Duration
	now          func() time.Time
}

// NewBooking constructs a BookingService. holdDuration is how long a pending
// reservation keeps its units before the sweeper reclaims them.
func NewBooking(bookings BookingStore, audit AuditStore, led *ledger.Ledger, pub Publisher, log zerolog.Logger, holdDuration time.Duration) *BookingService {
	return &BookingService{
		bookings:     bookings,
		audit:        audit,
		ledger:       led,
		publisher:    pub,
		log:          log,
		holdDuration: holdDuration,
		now:          time.Now,
	}
}

// SetPromoter wires the waitlist in after construction. The two services
// reference each other, so one side is attached late.
func (s *BookingService) SetPromoter(p Promoter) { s.promoter = p }

// Create places a pending hold: units move to reserved in the ledger and the
// booking gets an expiry deadline. Capacity is all-or-nothing; a shortfall
// surfaces model.ErrInsufficientCapacity with nothing held.
func (s *BookingService) Create(ctx context.Context, userID string, req model.CreateBookingRequest) (*model.Booking, error) {
	avail, err := s.ledger.TryReserve(ctx, req.EventID, req.Quantity)
	if err != nil {
		return nil, err
	}

	ref, err := s.newReference(ctx)
	if err != nil {
		s.compensateReserve(ctx, req.EventID, req.Quantity)
		return nil, err
	}

	now := s.now().UTC()
	expires := now.Add(s.holdDuration)
	b := &model.Booking{
		ID:               uuid.New().String(),
		UserID:           userID,
		EventID:          req.EventID,
		BookingReference: ref,
		Quantity:         req.Quantity,
		TotalAmountCents: int64(req.Quantity) * avail.PriceCents,
		Currency:         "USD",
		Status:           model.BookingPending,
		PaymentStatus:    model.PaymentPending,
		ExpiresAt:        &expires,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		s.compensateReserve(ctx, req.EventID, req.Quantity)
		return nil, err
	}

	s.recordTransition(ctx, b, "", userID, "booking created")
	return b, nil
}

// createHeld records a booking whose units are already reserved in the
// ledger. The waitlist acceptance path uses it so a held offer never takes a
// second trip through capacity arbitration.
func (s *BookingService) createHeld(ctx context.Context, userID, eventID string, qty int, amountCents int64) (*model.Booking, error) {
	ref, err := s.newReference(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expires := now.Add(s.holdDuration)
	b := &model.Booking{
		ID:               uuid.New().String(),
		UserID:           userID,
		EventID:          eventID,
		BookingReference: ref,
		Quantity:         qty,
		TotalAmountCents: amountCents,
		Currency:         "USD",
		Status:           model.BookingPending,
		PaymentStatus:    model.PaymentPending,
		ExpiresAt:        &expires,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, b, "", userID, "booking created from waitlist offer")
	return b, nil
}

// Get returns a booking, applying the read-time expiry check: a pending
// booking past its deadline is transitioned before it is returned, so no
// caller ever observes a live hold that has lapsed.
func (s *BookingService) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ExpiredAt(s.now()) {
		return s.Expire(ctx, b)
	}
	return b, nil
}

// Confirm moves a pending booking to confirmed, transferring its units from
// reserved to confirmed in the ledger. expectedVersion is the caller's view
// of the row; a mismatch fails immediately with model.ErrVersionConflict and
// is never retried on the caller's behalf.
func (s *BookingService) Confirm(ctx context.Context, userID, id string, expectedVersion int64) (*model.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, model.ErrNotFound
	}
	if b.ExpiredAt(s.now()) {
		if _, err := s.Expire(ctx, b); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("booking hold expired: %w", model.ErrInvalidTransition)
	}
	if b.Status != model.BookingPending {
		return nil, fmt.Errorf("confirm from %s: %w", b.Status, model.ErrInvalidTransition)
	}
	if b.Version != expectedVersion {
		return nil, model.ErrVersionConflict
	}

	now := s.now().UTC()
	old := b.Status
	updated := *b
	updated.Status = model.BookingConfirmed
	updated.PaymentStatus = model.PaymentCompleted
	updated.ConfirmedAt = &now
	updated.ExpiresAt = nil
	updated.UpdatedAt = now
	updated.Version = b.Version + 1

	if err := s.bookings.Update(ctx, &updated, expectedVersion); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Confirm(ctx, b.EventID, b.Quantity); err != nil {
		// The row won the version race but the ledger refused the
		// transfer. Roll the booking back so state stays coherent.
		revert := *b
		revert.UpdatedAt = s.now().UTC()
		revert.Version = updated.Version + 1
		if rerr := s.bookings.Update(ctx, &revert, updated.Version); rerr != nil {
			s.log.Error().Err(rerr).Str("booking_id", b.ID).Msg("failed to revert confirmation")
		}
		return nil, err
	}

	s.recordTransition(ctx, &updated, string(old), userID, "booking confirmed")
	return &updated, nil
}

// Cancel transitions a pending or confirmed booking to cancelled, credits
// its units back to the ledger, and offers the freed capacity to the
// waitlist.
func (s *BookingService) Cancel(ctx context.Context, userID, id string, expectedVersion int64, reason string) (*model.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, model.ErrNotFound
	}
	if b.ExpiredAt(s.now()) {
		if _, err := s.Expire(ctx, b); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("booking hold expired: %w", model.ErrInvalidTransition)
	}

	var bucket model.CapacityBucket
	switch b.Status {
	case model.BookingPending:
		bucket = model.BucketReserved
	case model.BookingConfirmed:
		bucket = model.BucketConfirmed
	default:
		return nil, fmt.Errorf("cancel from %s: %w", b.Status, model.ErrInvalidTransition)
	}
	if b.Version != expectedVersion {
		return nil, model.ErrVersionConflict
	}

	now := s.now().UTC()
	old := b.Status
	updated := *b
	updated.Status = model.BookingCancelled
	updated.CancelledAt = &now
	updated.ExpiresAt = nil
	updated.UpdatedAt = now
	updated.Version = b.Version + 1
	if b.PaymentStatus == model.PaymentCompleted {
		updated.PaymentStatus = model.PaymentRefunded
	}

	if err := s.bookings.Update(ctx, &updated, expectedVersion); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Release(ctx, b.EventID, b.Quantity, bucket); err != nil {
		s.log.Error().Err(err).Str("booking_id", b.ID).Str("event_id", b.EventID).
			Msg("capacity release after cancellation failed")
	}

	s.recordTransition(ctx, &updated, string(old), userID, reason)
	s.offerFreedCapacity(ctx, b.EventID)
	return &updated, nil
}

// Expire transitions a lapsed pending booking to expired and releases its
// hold. It is idempotent: a booking already out of pending is returned as-is
// with no second audit record. Version races with concurrent callers are
// retried internally since this is a system-initiated transition.
func (s *BookingService) Expire(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	for attempt := 0; attempt < systemRetries; attempt++ {
		if b.Status != model.BookingPending {
			return b, nil
		}

		now := s.now().UTC()
		updated := *b
		updated.Status = model.BookingExpired
		updated.ExpiresAt = nil
		updated.UpdatedAt = now
		updated.Version = b.Version + 1

		err := s.bookings.Update(ctx, &updated, b.Version)
		if errors.Is(err, model.ErrVersionConflict) {
			fresh, gerr := s.bookings.Get(ctx, b.ID)
			if gerr != nil {
				return nil, gerr
			}
			b = fresh
			continue
		}
		if err != nil {
			return nil, err
		}

		if _, err := s.ledger.Release(ctx, b.EventID, b.Quantity, model.BucketReserved); err != nil {
			s.log.Error().Err(err).Str("booking_id", b.ID).Str("event_id", b.EventID).
				Msg("capacity release after expiry failed")
		}
		s.recordTransition(ctx, &updated, string(model.BookingPending), "system", "hold expired")
		s.offerFreedCapacity(ctx, b.EventID)
		return &updated, nil
	}
	return b, nil
}

// Complete marks a confirmed booking completed after the event ran. The
// confirmed units stay on the ledger; completion is bookkeeping, not a
// capacity change.
func (s *BookingService) Complete(ctx context.Context, id string) (*model.Booking, error) {
	for attempt := 0; attempt < systemRetries; attempt++ {
		b, err := s.bookings.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.Status != model.BookingConfirmed {
			return nil, fmt.Errorf("complete from %s: %w", b.Status, model.ErrInvalidTransition)
		}

		updated := *b
		updated.Status = model.BookingCompleted
		updated.UpdatedAt = s.now().UTC()
		updated.Version = b.Version + 1

		err = s.bookings.Update(ctx, &updated, b.Version)
		if errors.Is(err, model.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.recordTransition(ctx, &updated, string(model.BookingConfirmed), "system", "event completed")
		return &updated, nil
	}
	return nil, model.ErrVersionConflict
}

// ExpireDue sweeps one batch of lapsed pending bookings and returns how many
// were transitioned.
func (s *BookingService) ExpireDue(ctx context.Context, batchSize int) (int, error) {
	due, err := s.bookings.ListExpiredPending(ctx, s.now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range due {
		b := due[i]
		res, err := s.Expire(ctx, &b)
		if err != nil {
			s.log.Error().Err(err).Str("booking_id", b.ID).Msg("sweeper failed to expire booking")
			continue
		}
		if res.Status == model.BookingExpired && b.Status == model.BookingPending {
			expired++
		}
	}
	return expired, nil
}

// ListForUser returns a user's bookings with the read-time expiry check
// applied to each. status narrows the result when non-empty; limit and
// offset page through it, a non-positive limit meaning unbounded.
func (s *BookingService) ListForUser(ctx context.Context, userID string, status model.BookingStatus, limit, offset int) ([]model.Booking, error) {
	bookings, err := s.bookings.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range bookings {
		if bookings[i].ExpiredAt(now) {
			res, err := s.Expire(ctx, &bookings[i])
			if err != nil {
				s.log.Warn().Err(err).Str("booking_id", bookings[i].ID).Msg("lazy expiry during list failed")
				continue
			}
			bookings[i] = *res
		}
	}

	if status != "" {
		filtered := bookings[:0]
		for _, b := range bookings {
			if b.Status == status {
				filtered = append(filtered, b)
			}
		}
		bookings = filtered
	}
	if offset > 0 {
		if offset >= len(bookings) {
			return nil, nil
		}
		bookings = bookings[offset:]
	}
	if limit > 0 && len(bookings) > limit {
		bookings = bookings[:limit]
	}
	return bookings, nil
}

// Audit returns the booking's transition trail, oldest first.
func (s *BookingService) Audit(ctx context.Context, id string) ([]model.AuditLog, error) {
	if _, err := s.bookings.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListForEntity(ctx, model.EntityBooking, id)
}

// newReference generates a unique human-facing booking reference of the form
// BK-YYYYMMDD-XXXXXXXX, re-rolling on the rare collision.
func (s *BookingService) newReference(ctx context.Context) (string, error) {
	day := s.now().UTC().Format("20060102")
	for attempt := 0; attempt < 5; attempt++ {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
		ref := fmt.Sprintf("BK-%s-%s", day, suffix)
		taken, err := s.bookings.ReferenceExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !taken {
			return ref, nil
		}
	}
	return "", errors.New("could not generate unique booking reference")
}

func (s *BookingService) compensateReserve(ctx context.Context, eventID string, qty int) {
	if _, err := s.ledger.Release(ctx, eventID, qty, model.BucketReserved); err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Int("quantity", qty).
			Msg("failed to release units after aborted booking")
	}
}

func (s *BookingService) offerFreedCapacity(ctx context.Context, eventID string) {
	if s.promoter == nil {
		return
	}
	if err := s.promoter.Promote(ctx, eventID); err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("waitlist promotion failed")
	}
}

// recordTransition appends the audit record and publishes the lifecycle
// event for one committed transition. Both are best-effort relative to the
// state change itself.
func (s *BookingService) recordTransition(ctx context.Context, b *model.Booking, oldStatus, actor, reason string) {
	err := s.audit.Append(ctx, &model.AuditLog{
		EntityType: model.EntityBooking,
		EntityID:   b.ID,
		Action:     string(b.Status),
		OldValue:   oldStatus,
		NewValue:   string(b.Status),
		ChangedBy:  actor,
		Reason:     reason,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("booking_id", b.ID).Msg("audit append failed")
	}

	if s.publisher == nil {
		return
	}
	err = s.publisher.Publish(ctx, model.LifecycleEvent{
		EntityType: model.EntityBooking,
		EntityID:   b.ID,
		EventID:    b.EventID,
		OldStatus:  oldStatus,
		NewStatus:  string(b.Status),
		Version:    b.Version,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("booking_id", b.ID).Msg("lifecycle publish failed")
	}
}
