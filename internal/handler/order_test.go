package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/handler"
	"github.com/davkandi/storefront-engine/internal/inventory"
	"github.com/davkandi/storefront-engine/internal/order"
)

type mockOrderService struct {
	CreateOrderFunc    func(ctx context.Context, input order.CreateOrderInput, actor auth.Actor) (*order.Order, error)
	GetOrderFunc       func(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*order.Order, error)
	ListByCustomerFunc func(ctx context.Context, customerID uuid.UUID, actor auth.Actor) ([]order.Order, error)
	TransitionFunc     func(ctx context.Context, orderID uuid.UUID, target order.Status, actor auth.Actor, note string) (*order.Order, error)
	StatusLogFunc      func(ctx context.Context, orderID uuid.UUID, actor auth.Actor) ([]order.StatusLogEntry, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, input order.CreateOrderInput, actor auth.Actor) (*order.Order, error) {
	return m.CreateOrderFunc(ctx, input, actor)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*order.Order, error) {
	return m.GetOrderFunc(ctx, orderID, actor)
}

func (m *mockOrderService) ListByCustomer(ctx context.Context, customerID uuid.UUID, actor auth.Actor) ([]order.Order, error) {
	return m.ListByCustomerFunc(ctx, customerID, actor)
}

func (m *mockOrderService) Transition(ctx context.Context, orderID uuid.UUID, target order.Status, actor auth.Actor, note string) (*order.Order, error) {
	return m.TransitionFunc(ctx, orderID, target, actor, note)
}

func (m *mockOrderService) CancelInTx(ctx context.Context, tx pgx.Tx, current *order.Order, actor auth.Actor, note string) error {
	return nil
}

func (m *mockOrderService) StatusLog(ctx context.Context, orderID uuid.UUID, actor auth.Actor) ([]order.StatusLogEntry, error) {
	return m.StatusLogFunc(ctx, orderID, actor)
}

func newOrderRouter(svc order.Service) *chi.Mux {
	h := handler.NewOrderHandler(svc)
	r := chi.NewRouter()
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders", h.ListOrders)
	r.Get("/orders/{id}", h.GetOrder)
	r.Patch("/orders/{id}/status", h.Transition)
	r.Get("/orders/{id}/status-log", h.StatusLog)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, target, body string, actor *auth.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func staffActor(t *testing.T) auth.Actor {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return auth.Actor{UserID: id, Role: auth.RoleSalesStaff}
}

func TestOrderHandler_CreateOrder(t *testing.T) {
	customerID, err := uuid.NewV4()
	require.NoError(t, err)
	productID, err := uuid.NewV4()
	require.NoError(t, err)
	variantID, err := uuid.NewV4()
	require.NoError(t, err)

	body := `{
		"customer_id": "` + customerID.String() + `",
		"payment_method": "CARD",
		"delivery_method": "COURIER",
		"delivery_fee": "5.00",
		"items": [
			{"product_id": "` + productID.String() + `", "variant_id": "` + variantID.String() + `",
			 "quantity": 2, "price": "19.99", "product_name": "Canvas Tote"}
		]
	}`

	tests := []struct {
		name           string
		body           string
		createOrder    func(ctx context.Context, input order.CreateOrderInput, actor auth.Actor) (*order.Order, error)
		withActor      bool
		expectedStatus int
	}{
		{
			name: "success",
			body: body,
			createOrder: func(ctx context.Context, input order.CreateOrderInput, actor auth.Actor) (*order.Order, error) {
				return &order.Order{
					OrderNumber: "ORD-20250901-AB12CD",
					CustomerID:  input.CustomerID,
					Status:      order.StatusPending,
					Total:       decimal.RequireFromString("44.98"),
				}, nil
			},
			withActor:      true,
			expectedStatus: http.StatusCreated,
		},
		{
			name: "insufficient_stock",
			body: body,
			createOrder: func(ctx context.Context, input order.CreateOrderInput, actor auth.Actor) (*order.Order, error) {
				return nil, inventory.ErrInsufficientStock
			},
			withActor:      true,
			expectedStatus: http.StatusConflict,
		},
		{
			name: "validation_error_is_bad_request",
			body: body,
			createOrder: func(ctx context.Context, input order.CreateOrderInput, actor auth.Actor) (*order.Order, error) {
				return nil, fmt.Errorf("%w: payment method and delivery method are required", order.ErrInvalidInput)
			},
			withActor:      true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid_body",
			body:           `{not json`,
			withActor:      true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "no_actor",
			body:           body,
			withActor:      false,
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newOrderRouter(&mockOrderService{CreateOrderFunc: tt.createOrder})

			var actor *auth.Actor
			if tt.withActor {
				a := auth.Actor{UserID: customerID, Role: auth.RoleCustomer}
				actor = &a
			}
			rec := doRequest(t, router, http.MethodPost, "/orders", tt.body, actor)
			assert.Equal(t, tt.expectedStatus, rec.Code)

			if tt.expectedStatus == http.StatusCreated {
				var got order.Order
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "ORD-20250901-AB12CD", got.OrderNumber)
				assert.Equal(t, order.StatusPending, got.Status)
			}
		})
	}
}

func TestOrderHandler_GetOrder(t *testing.T) {
	orderID, err := uuid.NewV4()
	require.NoError(t, err)

	tests := []struct {
		name           string
		target         string
		getOrder       func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*order.Order, error)
		expectedStatus int
	}{
		{
			name:   "success",
			target: "/orders/" + orderID.String(),
			getOrder: func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*order.Order, error) {
				return &order.Order{ID: id, Status: order.StatusConfirmed}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "not_found",
			target: "/orders/" + orderID.String(),
			getOrder: func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*order.Order, error) {
				return nil, order.ErrOrderNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:   "forbidden",
			target: "/orders/" + orderID.String(),
			getOrder: func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*order.Order, error) {
				return nil, auth.ErrForbidden
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "invalid_id",
			target:         "/orders/not-a-uuid",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newOrderRouter(&mockOrderService{GetOrderFunc: tt.getOrder})
			actor := staffActor(t)
			rec := doRequest(t, router, http.MethodGet, tt.target, "", &actor)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestOrderHandler_Transition(t *testing.T) {
	orderID, err := uuid.NewV4()
	require.NoError(t, err)

	tests := []struct {
		name           string
		body           string
		transition     func(ctx context.Context, id uuid.UUID, target order.Status, actor auth.Actor, note string) (*order.Order, error)
		expectedStatus int
	}{
		{
			name: "success",
			body: `{"status": "CONFIRMED", "note": "payment checked"}`,
			transition: func(ctx context.Context, id uuid.UUID, target order.Status, actor auth.Actor, note string) (*order.Order, error) {
				assert.Equal(t, order.StatusConfirmed, target)
				assert.Equal(t, "payment checked", note)
				return &order.Order{ID: id, Status: target}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "invalid_transition",
			body: `{"status": "DELIVERED"}`,
			transition: func(ctx context.Context, id uuid.UUID, target order.Status, actor auth.Actor, note string) (*order.Order, error) {
				return nil, &order.InvalidTransitionError{
					Current: order.StatusPending,
					Target:  order.StatusDelivered,
					Allowed: []order.Status{order.StatusConfirmed, order.StatusCancelled},
				}
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "cancelled_target_redirected_to_cancel_flow",
			body: `{"status": "CANCELLED"}`,
			transition: func(ctx context.Context, id uuid.UUID, target order.Status, actor auth.Actor, note string) (*order.Order, error) {
				return nil, order.ErrDirectCancellation
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "unknown_status",
			body:           `{"status": "TELEPORTED"}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newOrderRouter(&mockOrderService{TransitionFunc: tt.transition})
			actor := staffActor(t)
			rec := doRequest(t, router, http.MethodPatch, "/orders/"+orderID.String()+"/status", tt.body, &actor)
			assert.Equal(t, tt.expectedStatus, rec.Code)

			if tt.name == "invalid_transition" {
				assert.Contains(t, rec.Body.String(), "allowed:",
					"a rejected transition must name the allowed targets")
			}
			if tt.name == "cancelled_target_redirected_to_cancel_flow" {
				assert.Contains(t, rec.Body.String(), "cancellation flow",
					"the response must point the caller at the cancel endpoint")
			}
		})
	}
}

func TestOrderHandler_StatusLog(t *testing.T) {
	orderID, err := uuid.NewV4()
	require.NoError(t, err)

	router := newOrderRouter(&mockOrderService{
		StatusLogFunc: func(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]order.StatusLogEntry, error) {
			return []order.StatusLogEntry{
				{OrderID: id, PreviousStatus: order.StatusPending, NewStatus: order.StatusConfirmed},
			}, nil
		},
	})

	actor := staffActor(t)
	rec := doRequest(t, router, http.MethodGet, "/orders/"+orderID.String()+"/status-log", "", &actor)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []order.StatusLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, order.StatusConfirmed, entries[0].NewStatus)
}
