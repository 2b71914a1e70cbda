package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evently/booking-engine/internal/model"
)

// In-memory counterparts of the pgx repositories. They implement the same
// store interfaces with the same version-conflict semantics and back the
// tests plus local development without Postgres.

// MemoryAvailability is an in-memory availability store.
type MemoryAvailability struct {
	mu   sync.Mutex
	rows map[string]model.EventAvailability
}

// NewMemoryAvailability constructs an empty MemoryAvailability.
func NewMemoryAvailability() *MemoryAvailability {
	return &MemoryAvailability{rows: make(map[string]model.EventAvailability)}
}

// Get returns the ledger row for an event or model.ErrNotFound.
func (m *MemoryAvailability) Get(_ context.Context, eventID string) (*model.EventAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[eventID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &a, nil
}

// Create inserts a row, reporting model.ErrVersionConflict on a duplicate.
func (m *MemoryAvailability) Create(_ context.Context, a *model.EventAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[a.EventID]; ok {
		return model.ErrVersionConflict
	}
	m.rows[a.EventID] = *a
	return nil
}

// Update applies a compare-and-swap on the row version.
func (m *MemoryAvailability) Update(_ context.Context, a *model.EventAvailability, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[a.EventID]
	if !ok || cur.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	m.rows[a.EventID] = *a
	return nil
}

// MemoryBookings is an in-memory booking store.
type MemoryBookings struct {
	mu   sync.Mutex
	rows map[string]model.Booking
	refs map[string]bool
}

// NewMemoryBookings constructs an empty MemoryBookings.
func NewMemoryBookings() *MemoryBookings {
	return &MemoryBookings{
		rows: make(map[string]model.Booking),
		refs: make(map[string]bool),
	}
}

// Create inserts a new booking row.
func (m *MemoryBookings) Create(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[b.ID] = *b
	m.refs[b.BookingReference] = true
	return nil
}

// Get returns a booking by ID or model.ErrNotFound.
func (m *MemoryBookings) Get(_ context.Context, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &b, nil
}

// ReferenceExists reports whether a booking reference is already taken.
func (m *MemoryBookings) ReferenceExists(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[ref], nil
}

// Update applies a compare-and-swap on the booking version.
func (m *MemoryBookings) Update(_ context.Context, b *model.Booking, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[b.ID]
	if !ok || cur.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	m.rows[b.ID] = *b
	return nil
}

// ListByUser returns a user's bookings, newest first.
func (m *MemoryBookings) ListByUser(_ context.Context, userID string) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.rows {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListExpiredPending returns pending bookings whose hold passed the cutoff.
func (m *MemoryBookings) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.rows {
		if b.Status == model.BookingPending && b.ExpiresAt != nil && b.ExpiresAt.Before(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryWaitlist is an in-memory waitlist store.
type MemoryWaitlist struct {
	mu   sync.Mutex
	rows map[string]model.WaitlistEntry
}

// NewMemoryWaitlist constructs an empty MemoryWaitlist.
func NewMemoryWaitlist() *MemoryWaitlist {
	return &MemoryWaitlist{rows: make(map[string]model.WaitlistEntry)}
}

// Create inserts a new waitlist entry.
func (m *MemoryWaitlist) Create(_ context.Context, w *model.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[w.ID] = *w
	return nil
}

// Get returns a waitlist entry by ID or model.ErrNotFound.
func (m *MemoryWaitlist) Get(_ context.Context, id string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &w, nil
}

// Update applies a compare-and-swap on the entry version.
func (m *MemoryWaitlist) Update(_ context.Context, w *model.WaitlistEntry, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[w.ID]
	if !ok || cur.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	m.rows[w.ID] = *w
	return nil
}

// ActiveForUser returns the user's active entry for an event or
// model.ErrNotFound.
func (m *MemoryWaitlist) ActiveForUser(_ context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.rows {
		if w.EventID == eventID && w.UserID == userID && w.Active() {
			return &w, nil
		}
	}
	return nil, model.ErrNotFound
}

func sortQueueOrder(entries []model.WaitlistEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
}

// PendingForEvent returns the event's pending entries in promotion order.
func (m *MemoryWaitlist) PendingForEvent(_ context.Context, eventID string) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WaitlistEntry
	for _, w := range m.rows {
		if w.EventID == eventID && w.Status == model.WaitlistPending {
			out = append(out, w)
		}
	}
	sortQueueOrder(out)
	return out, nil
}

// ActiveForEvent returns pending and notified entries in promotion order.
func (m *MemoryWaitlist) ActiveForEvent(_ context.Context, eventID string) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WaitlistEntry
	for _, w := range m.rows {
		if w.EventID == eventID && w.Active() {
			out = append(out, w)
		}
	}
	sortQueueOrder(out)
	return out, nil
}

// ListByUser returns all of a user's entries, newest first.
func (m *MemoryWaitlist) ListByUser(_ context.Context, userID string) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WaitlistEntry
	for _, w := range m.rows {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListExpiredNotified returns notified entries whose window passed the cutoff.
func (m *MemoryWaitlist) ListExpiredNotified(_ context.Context, cutoff time.Time, limit int) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WaitlistEntry
	for _, w := range m.rows {
		if w.Status == model.WaitlistNotified && w.ExpiresAt != nil && w.ExpiresAt.Before(cutoff) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryAudit is an in-memory append-only audit store.
type MemoryAudit struct {
	mu     sync.Mutex
	nextID int64
	rows   []model.AuditLog
}

// NewMemoryAudit constructs an empty MemoryAudit.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{nextID: 1}
}

// Append records one audit entry and fills in its generated ID.
func (m *MemoryAudit) Append(_ context.Context, a *model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID
	m.nextID++
	m.rows = append(m.rows, *a)
	return nil
}

// ListForEntity returns the audit trail for one entity, oldest first.
func (m *MemoryAudit) ListForEntity(_ context.Context, entityType, entityID string) ([]model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditLog
	for _, a := range m.rows {
		if a.EntityType == entityType && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out, nil
}
