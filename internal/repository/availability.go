// Package repository implements all database queries for the booking engine.
// It uses pgx directly (no ORM) for transparency and performance. Every
// mutable row carries a version column; updates compare-and-swap on it and
// surface model.ErrVersionConflict when the row moved underneath the caller.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evently/booking-engine/internal/model"
)

// AvailabilityRepository persists the per-event capacity ledger rows.
type AvailabilityRepository struct {
	db *pgxpool.Pool
}

// NewAvailabilityRepository constructs an AvailabilityRepository.
func NewAvailabilityRepository(db *pgxpool.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// Get returns the ledger row for an event or model.ErrNotFound.
func (r *AvailabilityRepository) Get(ctx context.Context, eventID string) (*model.EventAvailability, error) {
	var a model.EventAvailability
	err := r.db.QueryRow(ctx,
		`SELECT event_id, total_capacity, available_capacity, reserved_capacity,
		        confirmed_capacity, price_cents, version, last_updated
		 FROM event_availability WHERE event_id = $1`,
		eventID,
	).Scan(&a.EventID, &a.TotalCapacity, &a.AvailableCapacity, &a.ReservedCapacity,
		&a.ConfirmedCapacity, &a.PriceCents, &a.Version, &a.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return &a, nil
}

// Create inserts a freshly materialized ledger row. A duplicate insert is
// reported as model.ErrVersionConflict so the caller re-reads the winner.
func (r *AvailabilityRepository) Create(ctx context.Context, a *model.EventAvailability) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO event_availability
		   (event_id, total_capacity, available_capacity, reserved_capacity,
		    confirmed_capacity, price_cents, version, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id) DO NOTHING`,
		a.EventID, a.TotalCapacity, a.AvailableCapacity, a.ReservedCapacity,
		a.ConfirmedCapacity, a.PriceCents, a.Version, a.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// Update writes the row back only if the stored version still equals
// expectedVersion.
func (r *AvailabilityRepository) Update(ctx context.Context, a *model.EventAvailability, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE event_availability
		 SET total_capacity = $1, available_capacity = $2, reserved_capacity = $3,
		     confirmed_capacity = $4, price_cents = $5, version = $6, last_updated = $7
		 WHERE event_id = $8 AND version = $9`,
		a.TotalCapacity, a.AvailableCapacity, a.ReservedCapacity,
		a.ConfirmedCapacity, a.PriceCents, a.Version, a.LastUpdated,
		a.EventID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}
