package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evently/booking-engine/internal/model"
)

func TestClientEventInfo(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/events/ev-1/capacity":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"event_id":"ev-1","name":"Concert","total_capacity":500,"price_cents":7500,"status":"published"}`))
		case "/v1/events/ev-gone/capacity":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	info, err := c.EventInfo(ctx, "ev-1")
	if err != nil {
		t.Fatalf("EventInfo: %v", err)
	}
	if info.TotalCapacity != 500 || info.PriceCents != 7500 || info.Status != EventStatusPublished {
		t.Errorf("info = %+v", info)
	}

	if _, err := c.EventInfo(ctx, "ev-gone"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing event: got %v, want ErrNotFound", err)
	}

	// A 5xx from the catalog is an upstream failure, not a missing event.
	if _, err := c.EventInfo(ctx, "ev-err"); !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("catalog 500: got %v, want ErrCollaboratorUnavailable", err)
	}
}

func TestClientUnreachableCatalog(t *testing.T) {
	t.Parallel()
	c := NewClient("http://127.0.0.1:1", 100*time.Millisecond)
	if _, err := c.EventInfo(context.Background(), "ev-1"); !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Fatalf("got %v, want ErrCollaboratorUnavailable", err)
	}
}

func TestStaticSource(t *testing.T) {
	t.Parallel()
	s := Static{"ev-1": {EventID: "ev-1", TotalCapacity: 10, Status: EventStatusPublished}}

	info, err := s.EventInfo(context.Background(), "ev-1")
	if err != nil || info.TotalCapacity != 10 {
		t.Fatalf("info=%+v err=%v", info, err)
	}
	if _, err := s.EventInfo(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
