package model

// CreateBookingRequest is the payload for creating a new booking.
type CreateBookingRequest struct {
	EventID  string `json:"event_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

// ConfirmBookingRequest carries the version the caller last read.
type ConfirmBookingRequest struct {
	Version int64 `json:"version" validate:"gte=1"`
}

// CancelBookingRequest carries the version the caller last read plus an
// optional reason recorded in the audit trail.
type CancelBookingRequest struct {
	Version int64  `json:"version" validate:"gte=1"`
	Reason  string `json:"reason" validate:"max=500"`
}

// JoinWaitlistRequest is the payload for joining an event's waitlist.
// Priority is honored only for admin callers; a smaller number ranks earlier.
// Everyone else joins at a neutral default and queues by join time.
type JoinWaitlistRequest struct {
	EventID  string `json:"event_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
	Priority int    `json:"priority" validate:"gte=0"`
}

// CancelWaitlistRequest cancels an active waitlist entry.
type CancelWaitlistRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// UpdateCapacityRequest resizes an event's total capacity (admin only).
type UpdateCapacityRequest struct {
	TotalCapacity int `json:"total_capacity" validate:"gt=0"`
}

// ErrorResponse is the standard JSON error envelope. Hint carries a
// follow-up action where one exists, e.g. offering a waitlist join when
// capacity is exhausted.
type ErrorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}
