package model

import "errors"

// Domain error taxonomy. Handlers map each of these to a distinct,
// user-actionable HTTP response; anything unwrapped is a 500.

// ErrInsufficientCapacity is a business condition, not a fault: the event has
// fewer available units than requested. Callers are offered a waitlist join.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// ErrVersionConflict signals an optimistic-concurrency collision: the version
// supplied no longer matches the row. The caller should re-read and retry.
var ErrVersionConflict = errors.New("version conflict")

// ErrLockContended is returned when the event lock could not be acquired
// within its timeout after bounded retries.
var ErrLockContended = errors.New("lock contended")

// ErrNotFound is returned when a booking, waitlist entry, or event is unknown.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when an action is attempted from a state
// that forbids it, e.g. confirming a cancelled booking.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrCollaboratorUnavailable is returned when a booking-critical external
// call (the event catalog) failed. Best-effort calls never surface this.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// ErrLedgerInconsistent is fatal for the affected event: its counters no
// longer sum to total capacity. Further mutation of the event is refused.
var ErrLedgerInconsistent = errors.New("availability ledger inconsistent")
