// Package catalog reads event metadata from the external event catalog.
// The catalog owns the data; this engine consumes it read-only to lazily
// materialize availability ledgers and to price bookings.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evently/booking-engine/internal/model"
)

// EventStatusPublished is the only catalog status bookings are accepted for.
const EventStatusPublished = "published"

// Info is the capacity view of a catalog event.
type Info struct {
	EventID       string `json:"event_id"`
	Name          string `json:"name"`
	TotalCapacity int    `json:"total_capacity"`
	PriceCents    int64  `json:"price_cents"`
	Status        string `json:"status"`
}

// Source answers capacity lookups. The HTTP client implements it against the
// catalog service; tests use a Static source.
type Source interface {
	EventInfo(ctx context.Context, eventID string) (*Info, error)
}

// Client is the HTTP catalog client.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a catalog client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// EventInfo fetches capacity info for one event. A transport failure is
// surfaced as model.ErrCollaboratorUnavailable: the booking path fails closed
// when the catalog cannot be reached.
func (c *Client) EventInfo(ctx context.Context, eventID string) (*Info, error) {
	url := fmt.Sprintf("%s/v1/events/%s/capacity", c.baseURL, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup for event %s: %w", eventID, model.ErrCollaboratorUnavailable)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, model.ErrNotFound
	default:
		return nil, fmt.Errorf("catalog returned %d: %w", resp.StatusCode, model.ErrCollaboratorUnavailable)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	if info.EventID == "" {
		info.EventID = eventID
	}
	return &info, nil
}

// Static is a fixed in-memory Source for tests and local development.
type Static map[string]Info

// EventInfo returns the fixed info for eventID or model.ErrNotFound.
func (s Static) EventInfo(_ context.Context, eventID string) (*Info, error) {
	info, ok := s[eventID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &info, nil
}
