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

const bookingColumns = `id, user_id, event_id, booking_reference, quantity,
	total_amount_cents, currency, status, payment_status,
	expires_at, confirmed_at, cancelled_at, created_at, updated_at, version`

// BookingRepository persists bookings. Rows are never deleted; terminal
// states are retained for audit.
type BookingRepository struct {
	db *pgxpool.Pool
}

// NewBookingRepository constructs a BookingRepository.
func NewBookingRepository(db *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{db: db}
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.EventID, &b.BookingReference, &b.Quantity,
		&b.TotalAmountCents, &b.Currency, &b.Status, &b.PaymentStatus,
		&b.ExpiresAt, &b.ConfirmedAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	return &b, nil
}

// Create inserts a new booking row.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		b.ID, b.UserID, b.EventID, b.BookingReference, b.Quantity,
		b.TotalAmountCents, b.Currency, b.Status, b.PaymentStatus,
		b.ExpiresAt, b.ConfirmedAt, b.CancelledAt, b.CreatedAt, b.UpdatedAt, b.Version,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// Get returns a booking by ID or model.ErrNotFound.
func (r *BookingRepository) Get(ctx context.Context, id string) (*model.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

// ReferenceExists reports whether a booking reference is already taken.
func (r *BookingRepository) ReferenceExists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM bookings WHERE booking_reference = $1)`, ref,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check booking reference: %w", err)
	}
	return exists, nil
}

// Update writes the booking back only if the stored version still equals
// expectedVersion, surfacing model.ErrVersionConflict otherwise.
func (r *BookingRepository) Update(ctx context.Context, b *model.Booking, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE bookings
		 SET status = $1, payment_status = $2, expires_at = $3, confirmed_at = $4,
		     cancelled_at = $5, updated_at = $6, version = $7
		 WHERE id = $8 AND version = $9`,
		b.Status, b.PaymentStatus, b.ExpiresAt, b.ConfirmedAt,
		b.CancelledAt, b.UpdatedAt, b.Version,
		b.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// ListByUser returns a user's bookings, newest first.
func (r *BookingRepository) ListByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// ListExpiredPending returns up to limit pending bookings whose hold deadline
// passed before the cutoff, oldest first. The sweeper processes them in
// batches.
func (r *BookingRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		 ORDER BY expires_at ASC
		 LIMIT $3`,
		model.BookingPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired bookings: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}
