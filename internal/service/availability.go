package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evently/booking-engine/internal/ledger"
	"github.com/evently/booking-engine/internal/model"
)

// AvailabilityService exposes ledger reads and the admin capacity resize.
type AvailabilityService struct {
	ledger   *ledger.Ledger
	audit    AuditStore
	promoter Promoter
	log      zerolog.Logger
}

// NewAvailability constructs an AvailabilityService.
func NewAvailability(led *ledger.Ledger, audit AuditStore, log zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{ledger: led, audit: audit, log: log}
}

// SetPromoter wires the waitlist in after construction.
func (s *AvailabilityService) SetPromoter(p Promoter) { s.promoter = p }

// Get returns the current ledger row for an event.
func (s *AvailabilityService) Get(ctx context.Context, eventID string) (*model.EventAvailability, error) {
	return s.ledger.Availability(ctx, eventID)
}

// UpdateCapacity resizes an event's total capacity. Growth frees units and
// is offered to the waitlist; shrinking below held units is refused by the
// ledger.
func (s *AvailabilityService) UpdateCapacity(ctx context.Context, actor, eventID string, newTotal int) (*model.EventAvailability, error) {
	before, err := s.ledger.Availability(ctx, eventID)
	if err != nil {
		return nil, err
	}

	after, err := s.ledger.UpdateTotalCapacity(ctx, eventID, newTotal)
	if err != nil {
		return nil, err
	}

	aerr := s.audit.Append(ctx, &model.AuditLog{
		EntityType: model.EntityAvailability,
		EntityID:   eventID,
		Action:     "capacity_updated",
		OldValue:   fmt.Sprintf("%d", before.TotalCapacity),
		NewValue:   fmt.Sprintf("%d", after.TotalCapacity),
		ChangedBy:  actor,
		Reason:     "admin capacity update",
		CreatedAt:  after.LastUpdated,
	})
	if aerr != nil {
		s.log.Error().Err(aerr).Str("event_id", eventID).Msg("audit append failed")
	}

	if after.AvailableCapacity > before.AvailableCapacity && s.promoter != nil {
		if perr := s.promoter.Promote(ctx, eventID); perr != nil {
			s.log.Warn().Err(perr).Str("event_id", eventID).Msg("waitlist promotion after capacity growth failed")
		}
	}
	return after, nil
}
