package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evently/booking-engine/internal/model"
)

func TestMemoryMutualExclusion(t *testing.T) {
	t.Parallel()
	m := NewMemory(2 * time.Second)
	ctx := context.Background()

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(ctx, "k")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			// Unsynchronized increment; the lock is the only guard.
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			if err := h.Release(ctx); err != nil {
				t.Errorf("Release: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Fatalf("counter = %d, want %d", counter, goroutines)
	}
}

func TestMemoryContentionTimesOut(t *testing.T) {
	t.Parallel()
	m := NewMemory(20 * time.Millisecond)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "busy")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := m.Acquire(ctx, "busy"); !errors.Is(err, model.ErrLockContended) {
		t.Fatalf("second acquire: got %v, want ErrLockContended", err)
	}

	// A different key is unaffected by the held lock.
	h2, err := m.Acquire(ctx, "other")
	if err != nil {
		t.Fatalf("acquire other key: %v", err)
	}
	_ = h2.Release(ctx)

	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h3, err := m.Acquire(ctx, "busy")
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	_ = h3.Release(ctx)
}

func TestMemoryAcquireHonorsContext(t *testing.T) {
	t.Parallel()
	m := NewMemory(time.Minute)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release(ctx)

	cancelled, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(cancelled, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}
