package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evently/booking-engine/internal/model"
)

func (f *fixture) mustJoin(t *testing.T, userID string, qty, priority int) *model.WaitlistEntry {
	t.Helper()
	e, err := f.waitlist.Join(context.Background(), userID, model.JoinWaitlistRequest{
		EventID: testEvent, Quantity: qty, Priority: priority,
	})
	if err != nil {
		t.Fatalf("Join for %s: %v", userID, err)
	}
	return e
}

func (f *fixture) entryStatus(t *testing.T, id string) model.WaitlistStatus {
	t.Helper()
	e, err := f.waitlistStore.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get entry %s: %v", id, err)
	}
	return e.Status
}

func TestJoinRequiresExhaustedCapacity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)
	ctx := context.Background()

	// Units are still directly bookable; the queue is closed.
	_, err := f.waitlist.Join(ctx, "u1", model.JoinWaitlistRequest{EventID: testEvent, Quantity: 1})
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition while capacity remains", err)
	}

	f.mustBook(t, "buyer", 5)
	e := f.mustJoin(t, "u1", 1, 0)
	if e.Status != model.WaitlistPending {
		t.Errorf("status = %s, want pending", e.Status)
	}

	// One active entry per user per event.
	_, err = f.waitlist.Join(ctx, "u1", model.JoinWaitlistRequest{EventID: testEvent, Quantity: 1})
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("duplicate join: got %v, want ErrInvalidTransition", err)
	}
}

func TestPromotionFollowsQueueOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	ctx := context.Background()
	b := f.mustBook(t, "buyer", 3)

	w1 := f.mustJoin(t, "u1", 2, 0)
	f.advance(time.Minute)
	w2 := f.mustJoin(t, "u2", 1, 0)
	f.advance(time.Minute)
	w3 := f.mustJoin(t, "u3", 1, 0)

	// Cancelling the sold-out booking frees 3 units; the first two entries
	// fit exactly, the third stays queued.
	if _, err := f.bookings.Cancel(ctx, "buyer", b.ID, b.Version, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if got := f.entryStatus(t, w1.ID); got != model.WaitlistNotified {
		t.Errorf("w1 = %s, want notified", got)
	}
	if got := f.entryStatus(t, w2.ID); got != model.WaitlistNotified {
		t.Errorf("w2 = %s, want notified", got)
	}
	if got := f.entryStatus(t, w3.ID); got != model.WaitlistPending {
		t.Errorf("w3 = %s, want pending", got)
	}

	// Offered units are held in the ledger immediately.
	a := f.mustAvailability(t)
	if a.AvailableCapacity != 0 || a.ReservedCapacity != 3 {
		t.Errorf("ledger available=%d reserved=%d after offers", a.AvailableCapacity, a.ReservedCapacity)
	}
}

func TestPromotionSkipsOversizedEntry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2)
	ctx := context.Background()
	first := f.mustBook(t, "buyer", 1)
	f.mustBook(t, "buyer2", 1)

	w1 := f.mustJoin(t, "u1", 2, 0)
	f.advance(time.Minute)
	w2 := f.mustJoin(t, "u2", 1, 0)

	// One unit frees up: w1 needs two and is skipped, w2 gets the offer.
	// w1 keeps its place at the head of the queue.
	if _, err := f.bookings.Cancel(ctx, "buyer", first.ID, first.Version, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if got := f.entryStatus(t, w1.ID); got != model.WaitlistPending {
		t.Errorf("w1 = %s, want pending (skipped)", got)
	}
	if got := f.entryStatus(t, w2.ID); got != model.WaitlistNotified {
		t.Errorf("w2 = %s, want notified", got)
	}
	pos, err := f.waitlist.Position(ctx, "u1", w1.ID)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 1 {
		t.Errorf("skipped entry position = %d, want 1", pos)
	}
}

func TestPriorityRanksAheadOfJoinTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.mustBook(t, "buyer", 1)

	w1 := f.mustJoin(t, "u1", 1, 0)
	f.advance(time.Minute)
	w2 := f.mustJoin(t, "vip", 1, 5)

	ctx := context.Background()
	pos, err := f.waitlist.Position(ctx, "vip", w2.ID)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 1 {
		t.Errorf("priority entry position = %d, want 1", pos)
	}
	pos, err = f.waitlist.Position(ctx, "u1", w1.ID)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 2 {
		t.Errorf("plain entry position = %d, want 2", pos)
	}
}

func TestAcceptConvertsHeldOffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2)
	ctx := context.Background()
	b := f.mustBook(t, "buyer", 2)
	w := f.mustJoin(t, "u1", 2, 0)

	if _, err := f.bookings.Cancel(ctx, "buyer", b.ID, b.Version, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := f.entryStatus(t, w.ID); got != model.WaitlistNotified {
		t.Fatalf("entry = %s, want notified", got)
	}

	booking, err := f.waitlist.Accept(ctx, "u1", w.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if booking.Status != model.BookingPending || booking.Quantity != 2 {
		t.Errorf("booking status=%s qty=%d", booking.Status, booking.Quantity)
	}
	if booking.TotalAmountCents != 2*testPrice {
		t.Errorf("amount = %d, want %d", booking.TotalAmountCents, 2*testPrice)
	}

	entry, err := f.waitlistStore.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("Get entry: %v", err)
	}
	if entry.Status != model.WaitlistBooked || entry.BookingReference != booking.BookingReference {
		t.Errorf("entry status=%s ref=%q", entry.Status, entry.BookingReference)
	}

	// Acceptance reuses the units held at notification time: no second
	// reservation, counters unchanged.
	a := f.mustAvailability(t)
	if a.ReservedCapacity != 2 || a.AvailableCapacity != 0 {
		t.Errorf("ledger reserved=%d available=%d after accept", a.ReservedCapacity, a.AvailableCapacity)
	}

	// A consumed offer cannot be accepted again.
	if _, err := f.waitlist.Accept(ctx, "u1", w.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("double accept: got %v, want ErrInvalidTransition", err)
	}
}

func TestAcceptAfterWindowClosed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	ctx := context.Background()
	b := f.mustBook(t, "buyer", 1)

	w1 := f.mustJoin(t, "u1", 1, 0)
	f.advance(time.Minute)
	w2 := f.mustJoin(t, "u2", 1, 0)

	if _, err := f.bookings.Cancel(ctx, "buyer", b.ID, b.Version, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := f.entryStatus(t, w1.ID); got != model.WaitlistNotified {
		t.Fatalf("w1 = %s, want notified", got)
	}

	f.advance(31 * time.Minute)

	if _, err := f.waitlist.Accept(ctx, "u1", w1.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("lapsed accept: got %v, want ErrInvalidTransition", err)
	}
	if got := f.entryStatus(t, w1.ID); got != model.WaitlistExpired {
		t.Errorf("w1 = %s, want expired", got)
	}
	// The reclaimed unit flows to the next entry in line.
	if got := f.entryStatus(t, w2.ID); got != model.WaitlistNotified {
		t.Errorf("w2 = %s, want notified after re-offer", got)
	}
}

func TestCancelNotifiedEntryReoffers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	ctx := context.Background()
	b := f.mustBook(t, "buyer", 1)

	w1 := f.mustJoin(t, "u1", 1, 0)
	f.advance(time.Minute)
	w2 := f.mustJoin(t, "u2", 1, 0)

	if _, err := f.bookings.Cancel(ctx, "buyer", b.ID, b.Version, ""); err != nil {
		t.Fatalf("Cancel booking: %v", err)
	}

	entry, err := f.waitlist.CancelEntry(ctx, "u1", w1.ID, "not interested")
	if err != nil {
		t.Fatalf("CancelEntry: %v", err)
	}
	if entry.Status != model.WaitlistCancelled {
		t.Errorf("entry = %s, want cancelled", entry.Status)
	}
	if got := f.entryStatus(t, w2.ID); got != model.WaitlistNotified {
		t.Errorf("w2 = %s, want notified after cancellation", got)
	}
}

func TestExpireDueNotificationsSweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	ctx := context.Background()
	b := f.mustBook(t, "buyer", 1)
	w := f.mustJoin(t, "u1", 1, 0)

	if _, err := f.bookings.Cancel(ctx, "buyer", b.ID, b.Version, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	f.advance(31 * time.Minute)
	n, err := f.waitlist.ExpireDueNotifications(ctx, 100)
	if err != nil {
		t.Fatalf("ExpireDueNotifications: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}
	if got := f.entryStatus(t, w.ID); got != model.WaitlistExpired {
		t.Errorf("entry = %s, want expired", got)
	}
	// The hold returned to the pool with nobody left to offer it to.
	a := f.mustAvailability(t)
	if a.AvailableCapacity != 1 || a.ReservedCapacity != 0 {
		t.Errorf("ledger available=%d reserved=%d", a.AvailableCapacity, a.ReservedCapacity)
	}
}

func TestWaitlistOwnershipChecks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	ctx := context.Background()
	f.mustBook(t, "buyer", 1)
	w := f.mustJoin(t, "u1", 1, 0)

	if _, err := f.waitlist.Get(ctx, "u2", w.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign get: got %v, want ErrNotFound", err)
	}
	if _, err := f.waitlist.Accept(ctx, "u2", w.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign accept: got %v, want ErrNotFound", err)
	}
	if _, err := f.waitlist.CancelEntry(ctx, "u2", w.ID, ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign cancel: got %v, want ErrNotFound", err)
	}
}
