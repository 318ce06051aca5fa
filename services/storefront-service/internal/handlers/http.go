package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/m-osmani/tickethub/services/storefront-service/internal/cache"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/storage"
)

// Handler serves the storefront's read side from the projections. Writes go
// through the catalog service; nothing here mutates state.
type Handler struct {
	events       *storage.EventProjectionRepository
	orders       *storage.OrderProjectionRepository
	availability *cache.Availability
}

func New(events *storage.EventProjectionRepository, orders *storage.OrderProjectionRepository, availability *cache.Availability) *Handler {
	return &Handler{events: events, orders: orders, availability: availability}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/events", h.ListEvents)
	mux.HandleFunc("/events/", h.EventByID)
	mux.HandleFunc("/orders/", h.OrderByID)
}

func eventResponse(p *storage.EventProjection) map[string]any {
	return map[string]any{
		"id":          p.EventID,
		"title":       p.Title,
		"venue":       p.Venue,
		"starts_at":   p.StartsAt,
		"capacity":    p.Capacity,
		"price_cents": p.PriceCents,
	}
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	events, err := h.events.ListActive(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for i := range events {
		out = append(out, eventResponse(&events[i]))
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) EventByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/events/")
	parts := strings.Split(rest, "/")
	eventID := parts[0]
	if eventID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}
	if len(parts) == 2 && parts[1] == "availability" {
		remaining, err := h.availability.Remaining(r.Context(), eventID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"event_id": eventID, "remaining": remaining})
		return
	}

	evt, err := h.events.FindByEventID(r.Context(), eventID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(eventResponse(evt))
}

func (h *Handler) OrderByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderID := strings.TrimPrefix(r.URL.Path, "/orders/")
	if orderID == "" || strings.Contains(orderID, "/") {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}
	order, err := h.orders.FindByOrderID(r.Context(), orderID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":             order.OrderID,
		"event_id":       order.EventID,
		"customer_email": order.CustomerEmail,
		"status":         order.Status,
		"amount_cents":   order.AmountCents,
	})
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}
