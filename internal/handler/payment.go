package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/order"
	"github.com/davkandi/storefront-engine/internal/payment"
)

// PaymentHandler handles payment reconciliation and cancellation requests.
type PaymentHandler struct {
	coord payment.Coordinator
}

func NewPaymentHandler(coord payment.Coordinator) *PaymentHandler {
	return &PaymentHandler{coord: coord}
}

type updatePaymentRequest struct {
	Status    order.PaymentStatus `json:"status"`
	Reference string              `json:"reference"`
}

// UpdatePaymentStatus handles PATCH /orders/{id}/payment.
func (h *PaymentHandler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
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

	var req updatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, "unknown payment status", http.StatusBadRequest)
		return
	}

	txn, err := h.coord.UpdatePaymentStatus(r.Context(), orderID, req.Status, req.Reference, actor)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

type cancelOrderRequest struct {
	Reason       string `json:"reason"`
	RefundMethod string `json:"refund_method"`
}

// CancelOrder handles POST /orders/{id}/cancel.
func (h *PaymentHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" || req.RefundMethod == "" {
		http.Error(w, "reason and refund_method are required", http.StatusBadRequest)
		return
	}

	refund, err := h.coord.CancelOrder(r.Context(), orderID, req.Reason, req.RefundMethod, actor)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refund)
}

// GetTransaction handles GET /orders/{id}/transaction.
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
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

	txn, err := h.coord.GetTransaction(r.Context(), orderID, actor)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

// ListRefunds handles GET /orders/{id}/refunds.
func (h *PaymentHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
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

	refunds, err := h.coord.ListRefunds(r.Context(), orderID, actor)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refunds)
}

func writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrCannotCancel),
		errors.Is(err, payment.ErrAlreadyRefunded):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, payment.ErrTransactionNotFound),
		errors.Is(err, payment.ErrRefundNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, payment.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeDomainError(w, err)
	}
}
