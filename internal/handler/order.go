package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/inventory"
	"github.com/davkandi/storefront-engine/internal/order"
)

// OrderHandler handles HTTP requests for order lifecycle operations.
type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type createOrderRequest struct {
	CustomerID     uuid.UUID         `json:"customer_id"`
	PaymentMethod  string            `json:"payment_method"`
	DeliveryMethod string            `json:"delivery_method"`
	DeliveryFee    decimal.Decimal   `json:"delivery_fee"`
	Items          []createItemInput `json:"items"`
}

type createItemInput struct {
	ProductID      uuid.UUID       `json:"product_id"`
	VariantID      uuid.UUID       `json:"variant_id"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	ProductName    string          `json:"product_name"`
	VariantDetails string          `json:"variant_details"`
}

// CreateOrder handles POST /orders.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	input := order.CreateOrderInput{
		CustomerID:     req.CustomerID,
		PaymentMethod:  req.PaymentMethod,
		DeliveryMethod: req.DeliveryMethod,
		DeliveryFee:    req.DeliveryFee,
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, order.CreateItemInput{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			Quantity:       it.Quantity,
			Price:          it.Price,
			ProductName:    it.ProductName,
			VariantDetails: it.VariantDetails,
		})
	}

	created, err := h.svc.CreateOrder(r.Context(), input, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// GetOrder handles GET /orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, err := h.svc.GetOrder(r.Context(), orderID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// ListOrders handles GET /orders?customer_id=...; customers see only their
// own orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	customerID := actor.UserID
	if q := r.URL.Query().Get("customer_id"); q != "" {
		customerID, err = uuid.FromString(q)
		if err != nil {
			http.Error(w, "invalid customer id", http.StatusBadRequest)
			return
		}
	}

	orders, err := h.svc.ListByCustomer(r.Context(), customerID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

type transitionRequest struct {
	Status order.Status `json:"status"`
	Note   string       `json:"note"`
}

// Transition handles PATCH /orders/{id}/status.
func (h *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, "unknown order status", http.StatusBadRequest)
		return
	}

	updated, err := h.svc.Transition(r.Context(), orderID, req.Status, actor, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// StatusLog handles GET /orders/{id}/status-log.
func (h *OrderHandler) StatusLog(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	entries, err := h.svc.StatusLog(r.Context(), orderID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Info().Msgf("Failed to encode response: %v", err)
	}
}

// writeDomainError maps the subsystem's error taxonomy onto HTTP statuses.
// Every kind is surfaced with its human-readable detail; nothing is
// downgraded to a warning.
func writeDomainError(w http.ResponseWriter, err error) {
	var transErr *order.InvalidTransitionError
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, inventory.ErrVariantNotFound),
		errors.Is(err, inventory.ErrEntryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &transErr):
		http.Error(w, transErr.Error(), http.StatusConflict)
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrDirectCancellation),
		errors.Is(err, inventory.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, order.ErrInvalidInput),
		errors.Is(err, inventory.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNoActor):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		log.Info().Msgf("Unhandled domain error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
