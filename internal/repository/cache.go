package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evently/booking-engine/internal/model"
)

// AvailabilityCache is a short-TTL Redis cache in front of the availability
// ledger. Reads that miss fall through to Postgres; every ledger mutation
// invalidates the key, so a stale window is bounded by the TTL.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAvailabilityCache constructs an AvailabilityCache.
func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func cacheKey(eventID string) string { return "availability:" + eventID }

// Get returns the cached row, or (nil, nil) on a miss.
func (c *AvailabilityCache) Get(ctx context.Context, eventID string) (*model.EventAvailability, error) {
	raw, err := c.client.Get(ctx, cacheKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var a model.EventAvailability
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &a, nil
}

// Set stores the row for the configured TTL.
func (c *AvailabilityCache) Set(ctx context.Context, a *model.EventAvailability) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(a.EventID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached row after a ledger mutation.
func (c *AvailabilityCache) Invalidate(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, cacheKey(eventID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
