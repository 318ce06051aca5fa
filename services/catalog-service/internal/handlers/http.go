package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/m-osmani/tickethub/services/catalog-service/internal/catalog"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/model"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/orders"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/storage"
)

// Handler is the thin write-path surface. It only translates requests into
// service calls; all event semantics live in the catalog and orders
// packages.
type Handler struct {
	catalog *catalog.Service
	orders  *orders.Service
}

func New(catalogSvc *catalog.Service, ordersSvc *orders.Service) *Handler {
	return &Handler{catalog: catalogSvc, orders: ordersSvc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/events", h.Events)
	mux.HandleFunc("/events/", h.EventByID)
	mux.HandleFunc("/orders", h.CreateOrder)
	mux.HandleFunc("/orders/", h.OrderByID)
	mux.HandleFunc("/purchases", h.Purchase)
}

type eventRequest struct {
	Title      string    `json:"title"`
	Venue      string    `json:"venue"`
	StartsAt   time.Time `json:"starts_at"`
	Capacity   int       `json:"capacity"`
	PriceCents int64     `json:"price_cents"`
}

func (req eventRequest) input() catalog.EventInput {
	return catalog.EventInput{
		Title:      strings.TrimSpace(req.Title),
		Venue:      strings.TrimSpace(req.Venue),
		StartsAt:   req.StartsAt,
		Capacity:   req.Capacity,
		PriceCents: req.PriceCents,
	}
}

func eventResponse(evt *model.Event) map[string]any {
	return map[string]any{
		"id":          evt.ID,
		"title":       evt.Title,
		"venue":       evt.Venue,
		"starts_at":   evt.StartsAt,
		"capacity":    evt.Capacity,
		"price_cents": evt.PriceCents,
	}
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" || req.Capacity <= 0 {
		http.Error(w, "title and positive capacity are required", http.StatusBadRequest)
		return
	}

	evt, err := h.catalog.CreateEvent(r.Context(), req.input())
	if err != nil {
		http.Error(w, "failed to create event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(eventResponse(evt))
}

func (h *Handler) EventByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/events/")
	parts := strings.Split(rest, "/")
	eventID := parts[0]
	if eventID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}
	if len(parts) == 2 && parts[1] == "restore" {
		h.restoreEvent(w, r, eventID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		evt, err := h.catalog.GetEvent(r.Context(), eventID)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(eventResponse(evt))
	case http.MethodPut:
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		evt, err := h.catalog.UpdateEvent(r.Context(), eventID, req.input())
		if err != nil {
			writeLookupError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(eventResponse(evt))
	case http.MethodDelete:
		if err := h.catalog.DeleteEvent(r.Context(), eventID); err != nil {
			writeLookupError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) restoreEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	evt, err := h.catalog.RestoreEvent(r.Context(), eventID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(eventResponse(evt))
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EventID       string `json:"event_id"`
		CustomerEmail string `json:"customer_email"`
		AmountCents   int64  `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" || req.CustomerEmail == "" {
		http.Error(w, "event_id and customer_email are required", http.StatusBadRequest)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), req.EventID, req.CustomerEmail, req.AmountCents)
	if err != nil {
		http.Error(w, "failed to create order", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": order.ID, "status": order.Status})
}

func (h *Handler) OrderByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	parts := strings.Split(rest, "/")
	orderID := parts[0]
	if orderID == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodPut && len(parts) == 2 && parts[1] == "status":
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			http.Error(w, "status is required", http.StatusBadRequest)
			return
		}
		if err := h.orders.UpdateOrderStatus(r.Context(), orderID, req.Status); err != nil {
			writeLookupError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete:
		if err := h.orders.CancelOrder(r.Context(), orderID); err != nil {
			writeLookupError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EventID       string `json:"event_id"`
		Seat          string `json:"seat"`
		CustomerEmail string `json:"customer_email"`
		PriceCents    int64  `json:"price_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" || req.CustomerEmail == "" {
		http.Error(w, "event_id and customer_email are required", http.StatusBadRequest)
		return
	}

	order, err := h.orders.PurchaseTicket(r.Context(), req.EventID, req.Seat, req.CustomerEmail, req.PriceCents)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "event unavailable or sold out", http.StatusConflict)
			return
		}
		http.Error(w, "failed to purchase ticket", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":        order.ID,
		"ticket_id": order.TicketID,
		"status":    order.Status,
	})
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}
