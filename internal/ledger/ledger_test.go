package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/evently/booking-engine/internal/catalog"
	"github.com/evently/booking-engine/internal/ledger"
	"github.com/evently/booking-engine/internal/lock"
	"github.com/evently/booking-engine/internal/model"
	"github.com/evently/booking-engine/internal/repository"
)

const testEvent = "ev-1"

func newTestLedger(capacity int) (*ledger.Ledger, *repository.MemoryAvailability) {
	store := repository.NewMemoryAvailability()
	cat := catalog.Static{
		testEvent: {
			EventID:       testEvent,
			Name:          "Test Event",
			TotalCapacity: capacity,
			PriceCents:    2500,
			Status:        catalog.EventStatusPublished,
		},
		"ev-draft": {
			EventID:       "ev-draft",
			TotalCapacity: 10,
			Status:        "draft",
		},
	}
	led := ledger.New(store, nil, lock.NewMemory(2*time.Second), cat, zerolog.Nop(), 3, time.Millisecond)
	return led, store
}

func TestTryReserveMaterializesFromCatalog(t *testing.T) {
	t.Parallel()
	led, _ := newTestLedger(10)

	a, err := led.TryReserve(context.Background(), testEvent, 3)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if a.AvailableCapacity != 7 || a.ReservedCapacity != 3 || a.TotalCapacity != 10 {
		t.Errorf("got available=%d reserved=%d total=%d, want 7/3/10",
			a.AvailableCapacity, a.ReservedCapacity, a.TotalCapacity)
	}
	if a.PriceCents != 2500 {
		t.Errorf("price not carried from catalog: got %d", a.PriceCents)
	}
	if a.Version != 2 {
		t.Errorf("version = %d, want 2 after materialize+reserve", a.Version)
	}
}

func TestTryReserveInsufficientCapacity(t *testing.T) {
	t.Parallel()
	led, _ := newTestLedger(10)

	if _, err := led.TryReserve(context.Background(), testEvent, 11); !errors.Is(err, model.ErrInsufficientCapacity) {
		t.Fatalf("got %v, want ErrInsufficientCapacity", err)
	}

	// Nothing may be held after a refused reservation.
	a, err := led.Availability(context.Background(), testEvent)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if a.AvailableCapacity != 10 || a.ReservedCapacity != 0 {
		t.Errorf("refused reserve left counters available=%d reserved=%d", a.AvailableCapacity, a.ReservedCapacity)
	}
}

func TestTryReserveUnknownEvent(t *testing.T) {
	t.Parallel()
	led, _ := newTestLedger(10)

	if _, err := led.TryReserve(context.Background(), "ev-missing", 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTryReserveUnpublishedEvent(t *testing.T) {
	t.Parallel()
	led, _ := newTestLedger(10)

	if _, err := led.TryReserve(context.Background(), "ev-draft", 1); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition for draft event", err)
	}
}

func TestConfirmAndRelease(t *testing.T) {
	t.Parallel()
	led, _ := newTestLedger(10)
	ctx := context.Background()

	if _, err := led.TryReserve(ctx, testEvent, 4); err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	a, err := led.Confirm(ctx, testEvent, 4)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if a.ReservedCapacity != 0 || a.ConfirmedCapacity != 4 || a.AvailableCapacity != 6 {
		t.Fatalf("after confirm: available=%d reserved=%d confirmed=%d",
			a.AvailableCapacity, a.ReservedCapacity, a.ConfirmedCapacity)
	}

	// Confirming more than is reserved must be refused.
	if _, err := led.Confirm(ctx, testEvent, 5); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("overdrawn confirm: got %v, want ErrInvalidTransition", err)
	}

	a, err = led.Release(ctx, testEvent, 2, model.BucketConfirmed)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if a.ConfirmedCapacity != 2 || a.AvailableCapacity != 8 {
		t.Fatalf("after release: available=%d confirmed=%d", a.AvailableCapacity, a.ConfirmedCapacity)
	}
}

func TestUpdateTotalCapacity(t *testing.T) {
	t.Parallel()
	led, _ := newTestLedger(10)
	ctx := context.Background()

	if _, err := led.TryReserve(ctx, testEvent, 6); err != nil {
		t.Fatalf("TryReserve: %v", err)
	}

	a, err := led.UpdateTotalCapacity(ctx, testEvent, 20)
	if err != nil {
		t.Fatalf("grow capacity: %v", err)
	}
	if a.TotalCapacity != 20 || a.AvailableCapacity != 14 || a.ReservedCapacity != 6 {
		t.Fatalf("after grow: total=%d available=%d reserved=%d",
			a.TotalCapacity, a.AvailableCapacity, a.ReservedCapacity)
	}

	// Shrinking below the 6 held units must be refused.
	if _, err := led.UpdateTotalCapacity(ctx, testEvent, 5); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("shrink below held: got %v, want ErrInvalidTransition", err)
	}
}

// TestConcurrentReserves hammers one event from many goroutines and checks
// that exactly the advertised capacity is granted and the counters still
// balance.
func TestConcurrentReserves(t *testing.T) {
	t.Parallel()
	const capacity = 60
	const callers = 100
	led, _ := newTestLedger(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, refused := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := led.TryReserve(context.Background(), testEvent, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, model.ErrInsufficientCapacity):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != capacity {
		t.Errorf("granted = %d, want %d", granted, capacity)
	}
	if refused != callers-capacity {
		t.Errorf("refused = %d, want %d", refused, callers-capacity)
	}

	a, err := led.Availability(context.Background(), testEvent)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if !a.Consistent() {
		t.Fatalf("counters inconsistent after stress: %+v", a)
	}
	if a.AvailableCapacity != 0 || a.ReservedCapacity != capacity {
		t.Errorf("final counters: available=%d reserved=%d", a.AvailableCapacity, a.ReservedCapacity)
	}
}

func TestInconsistentRowFencesEvent(t *testing.T) {
	t.Parallel()
	led, store := newTestLedger(10)
	ctx := context.Background()

	// Seed a corrupt row: counters do not sum to total.
	corrupt := &model.EventAvailability{
		EventID:           "ev-bad",
		TotalCapacity:     10,
		AvailableCapacity: 5,
		ReservedCapacity:  1,
		ConfirmedCapacity: 1,
		Version:           1,
		LastUpdated:       time.Now().UTC(),
	}
	if err := store.Create(ctx, corrupt); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := led.TryReserve(ctx, "ev-bad", 1); !errors.Is(err, model.ErrLedgerInconsistent) {
		t.Fatalf("got %v, want ErrLedgerInconsistent", err)
	}
	// The event stays fenced for every later mutation.
	if _, err := led.Release(ctx, "ev-bad", 1, model.BucketReserved); !errors.Is(err, model.ErrLedgerInconsistent) {
		t.Fatalf("fenced event accepted a mutation: %v", err)
	}
}
