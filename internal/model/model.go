// Package model defines the core domain types for the booking engine:
// the availability ledger row, bookings, waitlist entries, and the audit
// trail written on every state transition.
package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
	BookingRefunded  BookingStatus = "refunded"
	BookingCompleted BookingStatus = "completed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCancelled, BookingExpired, BookingRefunded, BookingCompleted:
		return true
	}
	return false
}

// PaymentStatus mirrors what the external payment collaborator reports.
// The engine records it but never drives payment itself.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// WaitlistStatus is the lifecycle state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistPending   WaitlistStatus = "pending"
	WaitlistNotified  WaitlistStatus = "notified"
	WaitlistBooked    WaitlistStatus = "booked"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// CapacityBucket names the ledger counter a quantity is held in, used when
// releasing units back to available.
type CapacityBucket string

const (
	BucketReserved  CapacityBucket = "reserved"
	BucketConfirmed CapacityBucket = "confirmed"
)

// EventAvailability is the per-event capacity ledger row: the single source
// of truth for how many units are free, held, or confirmed. It is mutated
// only under the event's distributed lock and carries a version incremented
// on every write.
type EventAvailability struct {
	EventID           string    `json:"event_id"`
	TotalCapacity     int       `json:"total_capacity"`
	AvailableCapacity int       `json:"available_capacity"`
	ReservedCapacity  int       `json:"reserved_capacity"`
	ConfirmedCapacity int       `json:"confirmed_capacity"`
	PriceCents        int64     `json:"price_cents"`
	Version           int64     `json:"version"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Consistent reports whether the counters still sum to total capacity with
// no negative bucket. A false result means the ledger row is corrupt and the
// event must be fenced off from further mutation.
func (a *EventAvailability) Consistent() bool {
	if a.AvailableCapacity < 0 || a.ReservedCapacity < 0 || a.ConfirmedCapacity < 0 {
		return false
	}
	return a.AvailableCapacity+a.ReservedCapacity+a.ConfirmedCapacity == a.TotalCapacity
}

// Booking is a single reservation request moving through its lifecycle.
// Rows are never deleted; terminal states are retained for audit.
type Booking struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	EventID          string        `json:"event_id"`
	BookingReference string        `json:"booking_reference"`
	Quantity         int           `json:"quantity"`
	TotalAmountCents int64         `json:"total_amount_cents"`
	Currency         string        `json:"currency"`
	Status           BookingStatus `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	ConfirmedAt      *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Version          int64         `json:"version"`
}

// ExpiredAt reports whether the booking is a pending reservation whose hold
// deadline has passed at the given instant. Readers treat such a booking as
// expired even before the sweeper physically transitions it.
func (b *Booking) ExpiredAt(now time.Time) bool {
	return b.Status == BookingPending && b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// WaitlistEntry is a queued request for an event at zero availability,
// ordered by (priority, joined_at) and promoted as capacity frees up.
type WaitlistEntry struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	EventID          string         `json:"event_id"`
	Quantity         int            `json:"quantity"`
	Priority         int            `json:"priority"`
	Status           WaitlistStatus `json:"status"`
	JoinedAt         time.Time      `json:"joined_at"`
	NotifiedAt       *time.Time     `json:"notified_at,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	BookedAt         *time.Time     `json:"booked_at,omitempty"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
	BookingReference string         `json:"booking_reference,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Version          int64          `json:"version"`
}

// Active reports whether the entry still occupies a place in the queue.
func (w *WaitlistEntry) Active() bool {
	return w.Status == WaitlistPending || w.Status == WaitlistNotified
}

// NotificationExpiredAt reports whether a notified entry's acceptance window
// has closed at the given instant.
func (w *WaitlistEntry) NotificationExpiredAt(now time.Time) bool {
	return w.Status == WaitlistNotified && w.ExpiresAt != nil && now.After(*w.ExpiresAt)
}

// Audit entity types.
const (
	EntityBooking      = "booking"
	EntityAvailability = "availability"
	EntityWaitlist     = "waitlist"
)

// AuditLog is one append-only record of a state transition. Rows are
// write-once and read by external compliance tooling.
type AuditLog struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	ChangedBy  string    `json:"changed_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LifecycleEvent is the message published to downstream collaborators
// (notifications, analytics) after a committed transition. Delivery is
// best-effort and not transactional with the state change.
type LifecycleEvent struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	EventID    string    `json:"event_id"`
	OldStatus  string    `json:"old_status,omitempty"`
	NewStatus  string    `json:"new_status"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}
