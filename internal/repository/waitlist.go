package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evently/booking-engine/internal/model"
)

const waitlistColumns = `id, user_id, event_id, quantity, priority, status,
	joined_at, notified_at, expires_at, booked_at, cancelled_at,
	booking_reference, created_at, updated_at, version`

// WaitlistRepository persists waitlist entries, ordered by (priority ASC,
// joined_at ASC) wherever queue order matters. A smaller priority number
// ranks earlier.
type WaitlistRepository struct {
	db *pgxpool.Pool
}

// NewWaitlistRepository constructs a WaitlistRepository.
func NewWaitlistRepository(db *pgxpool.Pool) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

func scanWaitlistEntry(row pgx.Row) (*model.WaitlistEntry, error) {
	var w model.WaitlistEntry
	err := row.Scan(&w.ID, &w.UserID, &w.EventID, &w.Quantity, &w.Priority, &w.Status,
		&w.JoinedAt, &w.NotifiedAt, &w.ExpiresAt, &w.BookedAt, &w.CancelledAt,
		&w.BookingReference, &w.CreatedAt, &w.UpdatedAt, &w.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("scan waitlist entry: %w", err)
	}
	return &w, nil
}

func scanWaitlistEntries(rows pgx.Rows) ([]model.WaitlistEntry, error) {
	defer rows.Close()
	var entries []model.WaitlistEntry
	for rows.Next() {
		w, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *w)
	}
	return entries, rows.Err()
}

// Create inserts a new waitlist entry.
func (r *WaitlistRepository) Create(ctx context.Context, w *model.WaitlistEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO waitlist_entries (`+waitlistColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		w.ID, w.UserID, w.EventID, w.Quantity, w.Priority, w.Status,
		w.JoinedAt, w.NotifiedAt, w.ExpiresAt, w.BookedAt, w.CancelledAt,
		w.BookingReference, w.CreatedAt, w.UpdatedAt, w.Version,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

// Get returns a waitlist entry by ID or model.ErrNotFound.
func (r *WaitlistRepository) Get(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return scanWaitlistEntry(r.db.QueryRow(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = $1`, id))
}

// Update writes the entry back only if the stored version still equals
// expectedVersion.
func (r *WaitlistRepository) Update(ctx context.Context, w *model.WaitlistEntry, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE waitlist_entries
		 SET status = $1, notified_at = $2, expires_at = $3, booked_at = $4,
		     cancelled_at = $5, booking_reference = $6, updated_at = $7, version = $8
		 WHERE id = $9 AND version = $10`,
		w.Status, w.NotifiedAt, w.ExpiresAt, w.BookedAt,
		w.CancelledAt, w.BookingReference, w.UpdatedAt, w.Version,
		w.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// ActiveForUser returns the user's pending or notified entry for an event,
// or model.ErrNotFound. Used to reject duplicate joins.
func (r *WaitlistRepository) ActiveForUser(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	return scanWaitlistEntry(r.db.QueryRow(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries
		 WHERE event_id = $1 AND user_id = $2 AND status IN ($3, $4)
		 LIMIT 1`,
		eventID, userID, model.WaitlistPending, model.WaitlistNotified))
}

// PendingForEvent returns the event's pending entries in promotion order.
func (r *WaitlistRepository) PendingForEvent(ctx context.Context, eventID string) ([]model.WaitlistEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries
		 WHERE event_id = $1 AND status = $2
		 ORDER BY priority ASC, joined_at ASC`,
		eventID, model.WaitlistPending)
	if err != nil {
		return nil, fmt.Errorf("list pending waitlist: %w", err)
	}
	return scanWaitlistEntries(rows)
}

// ActiveForEvent returns all pending and notified entries for an event in
// promotion order. Used for the admin queue view and position lookups.
func (r *WaitlistRepository) ActiveForEvent(ctx context.Context, eventID string) ([]model.WaitlistEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries
		 WHERE event_id = $1 AND status IN ($2, $3)
		 ORDER BY priority ASC, joined_at ASC`,
		eventID, model.WaitlistPending, model.WaitlistNotified)
	if err != nil {
		return nil, fmt.Errorf("list active waitlist: %w", err)
	}
	return scanWaitlistEntries(rows)
}

// ListByUser returns all of a user's waitlist entries, newest first.
func (r *WaitlistRepository) ListByUser(ctx context.Context, userID string) ([]model.WaitlistEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	return scanWaitlistEntries(rows)
}

// ListExpiredNotified returns up to limit notified entries whose acceptance
// window closed before the cutoff, oldest first.
func (r *WaitlistRepository) ListExpiredNotified(ctx context.Context, cutoff time.Time, limit int) ([]model.WaitlistEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries
		 WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		 ORDER BY expires_at ASC
		 LIMIT $3`,
		model.WaitlistNotified, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired notifications: %w", err)
	}
	return scanWaitlistEntries(rows)
}
