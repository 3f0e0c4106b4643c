package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/inventory"
)

// InventoryHandler handles stock adjustments and ledger reads.
type InventoryHandler struct {
	svc inventory.Service
}

func NewInventoryHandler(svc inventory.Service) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

type adjustmentRequest struct {
	VariantID      uuid.UUID            `json:"variant_id"`
	ChangeType     inventory.ChangeType `json:"change_type"`
	QuantityChange int                  `json:"quantity_change"`
	Reason         string               `json:"reason"`
	OrderID        *uuid.UUID           `json:"order_id,omitempty"`
}

// RecordAdjustment handles POST /inventory/adjustments.
func (h *InventoryHandler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.ChangeType.Valid() {
		http.Error(w, "unknown change type", http.StatusBadRequest)
		return
	}
	if req.QuantityChange == 0 {
		http.Error(w, "quantity_change must be non-zero", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	entry, err := h.svc.RecordAdjustment(r.Context(), inventory.AdjustmentInput{
		VariantID:      req.VariantID,
		ChangeType:     req.ChangeType,
		QuantityChange: req.QuantityChange,
		Reason:         req.Reason,
		OrderID:        req.OrderID,
	}, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

type createVariantRequest struct {
	VariantID uuid.UUID `json:"variant_id"`
	Quantity  int       `json:"quantity"`
}

// CreateVariant handles POST /inventory/variants.
func (h *InventoryHandler) CreateVariant(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.VariantID == uuid.Nil {
		http.Error(w, "variant_id is required", http.StatusBadRequest)
		return
	}
	if req.Quantity < 0 {
		http.Error(w, "quantity cannot be negative", http.StatusBadRequest)
		return
	}

	if err := h.svc.CreateVariant(r.Context(), req.VariantID, req.Quantity, actor); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// GetStock handles GET /inventory/variants/{id}/stock.
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	variantID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid variant id", http.StatusBadRequest)
		return
	}

	stock, err := h.svc.GetStock(r.Context(), variantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stock)
}

// History handles GET /inventory/variants/{id}/ledger.
func (h *InventoryHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	variantID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid variant id", http.StatusBadRequest)
		return
	}

	filter := inventory.HistoryFilter{}
	q := r.URL.Query()
	if v := q.Get("change_type"); v != "" {
		filter.ChangeType = inventory.ChangeType(v)
	}
	if v := q.Get("order_id"); v != "" {
		oid, err := uuid.FromString(v)
		if err != nil {
			http.Error(w, "invalid order id filter", http.StatusBadRequest)
			return
		}
		filter.OrderID = oid
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	entries, err := h.svc.History(r.Context(), variantID, filter, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

type annotateRequest struct {
	Annotation string `json:"annotation"`
}

// AnnotateEntry handles PATCH /inventory/ledger/{id}/annotation.
func (h *InventoryHandler) AnnotateEntry(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	entryID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid entry id", http.StatusBadRequest)
		return
	}

	var req annotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.svc.AnnotateEntry(r.Context(), entryID, req.Annotation, actor); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteEntry handles DELETE /inventory/ledger/{id}. Admin-only; breaks the
// audit trail for the entry's variant.
func (h *InventoryHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	entryID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid entry id", http.StatusBadRequest)
		return
	}

	if err := h.svc.DeleteEntry(r.Context(), entryID, actor); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
