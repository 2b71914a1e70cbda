// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/evently/booking-engine/internal/model"
	"github.com/evently/booking-engine/internal/service"
	"github.com/evently/booking-engine/internal/sweeper"
)

// Handler holds all HTTP handlers for the booking engine API.
type Handler struct {
	bookings     *service.BookingService
	waitlist     *service.WaitlistService
	availability *service.AvailabilityService
	sweep        *sweeper.Sweeper
	validate     *validator.Validate
	log          zerolog.Logger

	maxQuantity int
}

// New constructs a Handler.
func New(bookings *service.BookingService, waitlist *service.WaitlistService, availability *service.AvailabilityService, sweep *sweeper.Sweeper, log zerolog.Logger, maxQuantity int) *Handler {
	return &Handler{
		bookings:     bookings,
		waitlist:     waitlist,
		availability: availability,
		sweep:        sweep,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          log,
		maxQuantity:  maxQuantity,
	}
}

// Routes assembles the full router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(Identity)

		r.Get("/availability/{eventID}", h.GetAvailability)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/", h.ListBookings)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/confirm", h.ConfirmBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Get("/{id}/audit", h.BookingAudit)
		})

		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", h.JoinWaitlist)
			r.Get("/", h.ListWaitlist)
			r.Get("/{id}", h.GetWaitlistEntry)
			r.Get("/{id}/position", h.WaitlistPosition)
			r.Post("/{id}/accept", h.AcceptOffer)
			r.Post("/{id}/cancel", h.CancelWaitlistEntry)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Put("/availability/{eventID}/capacity", h.UpdateCapacity)
			r.Get("/waitlist/{eventID}", h.EventWaitlist)
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *Handler) decodeValid(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInsufficientCapacity):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error: "not enough capacity available",
			Hint:  "join the waitlist via POST /waitlist",
		})
	case errors.Is(err, model.ErrVersionConflict):
		writeError(w, http.StatusConflict, "resource was modified concurrently, re-read and retry")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, model.ErrLockContended):
		writeError(w, http.StatusServiceUnavailable, "resource is busy, retry shortly")
	case errors.Is(err, model.ErrLedgerInconsistent):
		writeError(w, http.StatusServiceUnavailable, "event is temporarily unavailable")
	case errors.Is(err, model.ErrCollaboratorUnavailable):
		writeError(w, http.StatusBadGateway, "upstream catalog unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Bookings ─────────────────────────────────────────────────────────────────

// CreateBooking handles POST /bookings
// Places a pending hold on capacity for the caller.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBookingRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity > h.maxQuantity {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("quantity exceeds the per-booking limit of %d", h.maxQuantity))
		return
	}

	booking, err := h.bookings.Create(r.Context(), userID(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// ListBookings handles GET /bookings
// Returns the caller's bookings, newest first. Supports ?status=, ?limit=
// and ?offset= query parameters.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 50)
	offset := queryInt(q.Get("offset"), 0)
	bookings, err := h.bookings.ListForUser(r.Context(), userID(r), model.BookingStatus(q.Get("status")), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// GetBooking handles GET /bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if booking.UserID != userID(r) && !isAdmin(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// ConfirmBooking handles POST /bookings/{id}/confirm
// Moves a pending hold to confirmed at the version the caller last read.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	var req model.ConfirmBookingRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	booking, err := h.bookings.Confirm(r.Context(), userID(r), chi.URLParam(r, "id"), req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// CancelBooking handles POST /bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CancelBookingRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled by user"
	}
	booking, err := h.bookings.Cancel(r.Context(), userID(r), chi.URLParam(r, "id"), req.Version, reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// BookingAudit handles GET /bookings/{id}/audit
// Returns the booking's transition trail, restricted to its owner or an
// admin.
func (h *Handler) BookingAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	booking, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if booking.UserID != userID(r) && !isAdmin(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	logs, err := h.bookings.Audit(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// ─── Availability ─────────────────────────────────────────────────────────────

// GetAvailability handles GET /availability/{eventID}
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.availability.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// UpdateCapacity handles PUT /admin/availability/{eventID}/capacity
func (h *Handler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateCapacityRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	avail, err := h.availability.UpdateCapacity(r.Context(), userID(r), chi.URLParam(r, "eventID"), req.TotalCapacity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// JoinWaitlist handles POST /waitlist
// Enqueues the caller for a sold-out event. Explicit priorities are
// admin-only; everyone else queues at the neutral default.
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req model.JoinWaitlistRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity > h.maxQuantity {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("quantity exceeds the per-booking limit of %d", h.maxQuantity))
		return
	}
	if req.Priority > 0 && !isAdmin(r) {
		writeError(w, http.StatusForbidden, "assigning a priority requires the admin role")
		return
	}

	entry, err := h.waitlist.Join(r.Context(), userID(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pos, err := h.waitlist.Position(r.Context(), userID(r), entry.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("entry_id", entry.ID).Msg("position lookup after join failed")
	}
	writeJSON(w, http.StatusCreated, struct {
		model.WaitlistEntry
		Position int `json:"position"`
	}{*entry, pos})
}

// ListWaitlist handles GET /waitlist
func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.waitlist.ListForUser(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetWaitlistEntry handles GET /waitlist/{id}
func (h *Handler) GetWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.waitlist.Get(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// WaitlistPosition handles GET /waitlist/{id}/position
func (h *Handler) WaitlistPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.waitlist.Position(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

// AcceptOffer handles POST /waitlist/{id}/accept
// Converts a live offer into a pending booking.
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	booking, err := h.waitlist.Accept(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// CancelWaitlistEntry handles POST /waitlist/{id}/cancel
func (h *Handler) CancelWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	var req model.CancelWaitlistRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled by user"
	}
	entry, err := h.waitlist.CancelEntry(r.Context(), userID(r), chi.URLParam(r, "id"), reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// EventWaitlist handles GET /admin/waitlist/{eventID}
// Returns the full active queue for an event in promotion order.
func (h *Handler) EventWaitlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.waitlist.EventQueue(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// TriggerSweep handles POST /admin/sweep
// Runs one reclamation pass immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	expired, closed := h.sweep.Sweep(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{
		"bookings_expired": expired,
		"offers_closed":    closed,
	})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
