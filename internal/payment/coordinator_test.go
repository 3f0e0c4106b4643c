package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/inventory"
	"github.com/davkandi/storefront-engine/internal/notify"
	"github.com/davkandi/storefront-engine/internal/order"
	"github.com/davkandi/storefront-engine/internal/payment"
)

// In-memory doubles. The order repository honors the same completed_at and
// payment_reference write rules as the Postgres implementation so the
// coordinator's flows run against faithful storage semantics.

type memOrderRepo struct {
	orders map[uuid.UUID]*order.Order
	items  map[uuid.UUID][]order.OrderItem
	log    []order.StatusLogEntry
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		orders: make(map[uuid.UUID]*order.Order),
		items:  make(map[uuid.UUID][]order.OrderItem),
	}
}

func (m *memOrderRepo) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (m *memOrderRepo) CreateOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	o.ID = id
	cp := *o
	m.orders[o.ID] = &cp
	m.items[o.ID] = o.Items
	return nil
}

func (m *memOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	cp.Items = m.items[id]
	return &cp, nil
}

func (m *memOrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]order.OrderItem, error) {
	return m.items[orderID], nil
}

func (m *memOrderRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]order.Order, error) {
	out := make([]order.Order, 0)
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status order.Status, completedAt *time.Time) error {
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = status
	if o.CompletedAt == nil && completedAt != nil {
		o.CompletedAt = completedAt
	}
	return nil
}

func (m *memOrderRepo) UpdatePayment(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status order.PaymentStatus, reference string) error {
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.PaymentStatus = status
	if reference != "" {
		o.PaymentReference = reference
	}
	return nil
}

func (m *memOrderRepo) AppendStatusLog(ctx context.Context, tx pgx.Tx, entry *order.StatusLogEntry) error {
	m.log = append(m.log, *entry)
	return nil
}

func (m *memOrderRepo) StatusLog(ctx context.Context, orderID uuid.UUID) ([]order.StatusLogEntry, error) {
	out := make([]order.StatusLogEntry, 0)
	for _, e := range m.log {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPaymentRepo struct {
	transactions map[uuid.UUID]*payment.Transaction
	refunds      map[uuid.UUID]*payment.Refund
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{
		transactions: make(map[uuid.UUID]*payment.Transaction),
		refunds:      make(map[uuid.UUID]*payment.Refund),
	}
}

func (m *memPaymentRepo) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (m *memPaymentRepo) UpsertTransaction(ctx context.Context, tx pgx.Tx, t *payment.Transaction) error {
	if existing, ok := m.transactions[t.OrderID]; ok {
		existing.Status = t.Status
		existing.Reference = t.Reference
		existing.VerifiedBy = t.VerifiedBy
		existing.VerifiedAt = t.VerifiedAt
		existing.UpdatedAt = time.Now().UTC()
		*t = *existing
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt = time.Now().UTC()
	cp := *t
	m.transactions[t.OrderID] = &cp
	return nil
}

func (m *memPaymentRepo) GetTransactionByOrder(ctx context.Context, orderID uuid.UUID) (*payment.Transaction, error) {
	t, ok := m.transactions[orderID]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memPaymentRepo) CreateRefund(ctx context.Context, tx pgx.Tx, r *payment.Refund) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	r.ID = id
	r.CreatedAt = time.Now().UTC()
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *memPaymentRepo) UpdateRefundStatus(ctx context.Context, refundID uuid.UUID, status payment.RefundStatus, processedAt *time.Time) error {
	r, ok := m.refunds[refundID]
	if !ok {
		return payment.ErrRefundNotFound
	}
	r.Status = status
	if processedAt != nil {
		r.ProcessedAt = processedAt
	}
	return nil
}

func (m *memPaymentRepo) GetRefundsByOrder(ctx context.Context, orderID uuid.UUID) ([]payment.Refund, error) {
	out := make([]payment.Refund, 0)
	for _, r := range m.refunds {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type memStock struct {
	stock map[uuid.UUID]int
	calls []inventory.AdjustmentInput
}

func newMemStock() *memStock {
	return &memStock{stock: make(map[uuid.UUID]int)}
}

func (m *memStock) RecordAdjustment(ctx context.Context, input inventory.AdjustmentInput, actor auth.Actor) (*inventory.LedgerEntry, error) {
	return m.RecordAdjustmentInTx(ctx, nil, input, actor)
}

func (m *memStock) RecordAdjustmentInTx(ctx context.Context, tx pgx.Tx, input inventory.AdjustmentInput, actor auth.Actor) (*inventory.LedgerEntry, error) {
	current, ok := m.stock[input.VariantID]
	if !ok {
		return nil, inventory.ErrVariantNotFound
	}
	next := current + input.QuantityChange
	if next < 0 {
		return nil, inventory.ErrInsufficientStock
	}
	m.stock[input.VariantID] = next
	m.calls = append(m.calls, input)
	return &inventory.LedgerEntry{
		VariantID:        input.VariantID,
		ChangeType:       input.ChangeType,
		QuantityChange:   input.QuantityChange,
		PreviousQuantity: current,
		NewQuantity:      next,
	}, nil
}

func (m *memStock) GetStock(ctx context.Context, variantID uuid.UUID) (*inventory.VariantStock, error) {
	qty, ok := m.stock[variantID]
	if !ok {
		return nil, inventory.ErrVariantNotFound
	}
	return &inventory.VariantStock{VariantID: variantID, Quantity: qty}, nil
}

func (m *memStock) History(ctx context.Context, variantID uuid.UUID, filter inventory.HistoryFilter, actor auth.Actor) ([]inventory.LedgerEntry, error) {
	return nil, nil
}

func (m *memStock) AnnotateEntry(ctx context.Context, entryID uuid.UUID, annotation string, actor auth.Actor) error {
	return nil
}

func (m *memStock) DeleteEntry(ctx context.Context, entryID uuid.UUID, actor auth.Actor) error {
	return nil
}

func (m *memStock) CreateVariant(ctx context.Context, variantID uuid.UUID, quantity int, actor auth.Actor) error {
	m.stock[variantID] = quantity
	return nil
}

type mockGateway struct {
	err   error
	calls []payment.RefundRequest
}

func (g *mockGateway) Refund(ctx context.Context, req payment.RefundRequest) error {
	g.calls = append(g.calls, req)
	return g.err
}

type silentNotifier struct{}

func (silentNotifier) OrderStatusChanged(notify.StatusChange) {}
func (silentNotifier) RefundCreated(notify.RefundNotice)      {}

type fixture struct {
	coord      payment.Coordinator
	orders     *memOrderRepo
	payments   *memPaymentRepo
	stock      *memStock
	gateway    *mockGateway
	orderID    uuid.UUID
	customerID uuid.UUID
	variantID  uuid.UUID
}

func newFixture(t *testing.T, status order.Status, gatewayErr error) *fixture {
	t.Helper()

	orders := newMemOrderRepo()
	payments := newMemPaymentRepo()
	stock := newMemStock()
	gateway := &mockGateway{err: gatewayErr}

	orderSvc := order.NewService(orders, stock, silentNotifier{})
	coord := payment.NewCoordinator(payments, orders, orderSvc, stock, gateway, silentNotifier{})

	customerID, err := uuid.NewV4()
	require.NoError(t, err)
	orderID, err := uuid.NewV4()
	require.NoError(t, err)
	variantID, err := uuid.NewV4()
	require.NoError(t, err)

	// Variant started at 5, the order sold 2.
	stock.stock[variantID] = 3

	orders.orders[orderID] = &order.Order{
		ID:            orderID,
		OrderNumber:   "ORD-20250901-AB12CD",
		CustomerID:    customerID,
		Status:        status,
		PaymentMethod: "CARD",
		PaymentStatus: order.PaymentPaid,
		Total:         decimal.RequireFromString("44.98"),
	}
	orders.items[orderID] = []order.OrderItem{{
		OrderID:   orderID,
		VariantID: variantID,
		Quantity:  2,
	}}

	return &fixture{
		coord:      coord,
		orders:     orders,
		payments:   payments,
		stock:      stock,
		gateway:    gateway,
		orderID:    orderID,
		customerID: customerID,
		variantID:  variantID,
	}
}

func staff(t *testing.T) auth.Actor {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return auth.Actor{UserID: id, Role: auth.RoleSalesStaff}
}

func TestCoordinator_UpdatePaymentStatus_Paid(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)
	actor := staff(t)

	txn, err := f.coord.UpdatePaymentStatus(context.Background(), f.orderID, order.PaymentPaid, "stripe_pi_123", actor)
	require.NoError(t, err)

	assert.Equal(t, payment.TransactionCompleted, txn.Status)
	assert.Equal(t, "stripe_pi_123", txn.Reference)
	require.NotNil(t, txn.VerifiedAt, "PAID stamps verified_at")
	require.NotNil(t, txn.VerifiedBy)
	assert.Equal(t, actor.UserID, *txn.VerifiedBy)

	updated, err := f.orders.GetByID(context.Background(), f.orderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, updated.PaymentStatus)
	assert.Equal(t, "stripe_pi_123", updated.PaymentReference)
}

func TestCoordinator_UpdatePaymentStatus_ReverificationUpdatesSameRow(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)

	first, err := f.coord.UpdatePaymentStatus(context.Background(), f.orderID, order.PaymentPaid, "ref_one", staff(t))
	require.NoError(t, err)

	second, err := f.coord.UpdatePaymentStatus(context.Background(), f.orderID, order.PaymentPaid, "ref_two", staff(t))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-verification must update the same transaction row")
	assert.Equal(t, "ref_two", second.Reference)
	assert.Len(t, f.payments.transactions, 1, "exactly one transaction row per order")
}

func TestCoordinator_UpdatePaymentStatus_NonPaidDoesNotVerify(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)

	txn, err := f.coord.UpdatePaymentStatus(context.Background(), f.orderID, order.PaymentFailed, "", staff(t))
	require.NoError(t, err)

	assert.Equal(t, payment.TransactionFailed, txn.Status)
	assert.Nil(t, txn.VerifiedAt)
	assert.Nil(t, txn.VerifiedBy)
}

func TestCoordinator_UpdatePaymentStatus_Authorization(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)

	_, err := f.coord.UpdatePaymentStatus(context.Background(), f.orderID, order.PaymentPaid, "ref",
		auth.Actor{UserID: f.customerID, Role: auth.RoleCustomer})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestCoordinator_CancelOrder(t *testing.T) {
	cancellableStatuses := []order.Status{order.StatusPending, order.StatusConfirmed, order.StatusProcessing}
	for _, status := range cancellableStatuses {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, status, nil)

			refund, err := f.coord.CancelOrder(context.Background(), f.orderID, "customer request", "CARD", staff(t))
			require.NoError(t, err)

			assert.Equal(t, payment.RefundProcessing, refund.Status, "gateway accepted, refund advances to PROCESSING")
			assert.True(t, refund.Amount.Equal(decimal.RequireFromString("44.98")))
			require.NotNil(t, refund.ProcessedAt)

			cancelled, err := f.orders.GetByID(context.Background(), f.orderID)
			require.NoError(t, err)
			assert.Equal(t, order.StatusCancelled, cancelled.Status)
			assert.Equal(t, order.PaymentRefunded, cancelled.PaymentStatus)
			require.NotNil(t, cancelled.CompletedAt, "cancellation is terminal and stamps completed_at")

			assert.Equal(t, 5, f.stock.stock[f.variantID], "two sold units return to the original five")
			require.Len(t, f.stock.calls, 1)
			assert.Equal(t, inventory.ChangeReturn, f.stock.calls[0].ChangeType)
			assert.Equal(t, 2, f.stock.calls[0].QuantityChange)

			require.Len(t, f.gateway.calls, 1)
		})
	}
}

func TestCoordinator_CancelOrder_SecondCallRejected(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)

	_, err := f.coord.CancelOrder(context.Background(), f.orderID, "customer request", "CARD", staff(t))
	require.NoError(t, err)

	_, err = f.coord.CancelOrder(context.Background(), f.orderID, "retry", "CARD", staff(t))
	assert.ErrorIs(t, err, payment.ErrAlreadyRefunded)

	assert.Equal(t, 5, f.stock.stock[f.variantID], "stock must not be restored twice")
	assert.Len(t, f.stock.calls, 1)
	assert.Len(t, f.payments.refunds, 1, "no second refund row")
}

func TestCoordinator_CancelOrder_NotCancellable(t *testing.T) {
	for _, status := range []order.Status{order.StatusShipped, order.StatusReadyForPickup, order.StatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, status, nil)

			_, err := f.coord.CancelOrder(context.Background(), f.orderID, "too late", "CARD", staff(t))
			assert.ErrorIs(t, err, payment.ErrCannotCancel)
			assert.Empty(t, f.payments.refunds)
			assert.Empty(t, f.stock.calls)

			unchanged, getErr := f.orders.GetByID(context.Background(), f.orderID)
			require.NoError(t, getErr)
			assert.Equal(t, status, unchanged.Status)
		})
	}
}

func TestCoordinator_CancelOrder_Ownership(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)

	strangerID, err := uuid.NewV4()
	require.NoError(t, err)
	_, err = f.coord.CancelOrder(context.Background(), f.orderID, "not mine", "CARD",
		auth.Actor{UserID: strangerID, Role: auth.RoleCustomer})
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.Empty(t, f.payments.refunds)

	_, err = f.coord.CancelOrder(context.Background(), f.orderID, "changed my mind", "CARD",
		auth.Actor{UserID: f.customerID, Role: auth.RoleCustomer})
	assert.NoError(t, err, "the owning customer may cancel their own order")
}

func TestCoordinator_CancelOrder_GatewayFailureIsRecordedNotThrown(t *testing.T) {
	f := newFixture(t, order.StatusConfirmed, errors.New("gateway unavailable"))

	refund, err := f.coord.CancelOrder(context.Background(), f.orderID, "customer request", "CARD", staff(t))
	require.NoError(t, err, "a gateway failure must not surface as a cancellation error")

	assert.Equal(t, payment.RefundFailed, refund.Status)
	assert.Nil(t, refund.ProcessedAt)

	cancelled, err := f.orders.GetByID(context.Background(), f.orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status, "the cancellation stands")
	assert.Equal(t, order.PaymentRefunded, cancelled.PaymentStatus)
	assert.Equal(t, 5, f.stock.stock[f.variantID], "stock restoration stands")
}

func TestCoordinator_CancelOrder_MissingInput(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)

	_, err := f.coord.CancelOrder(context.Background(), f.orderID, "", "CARD", staff(t))
	assert.ErrorIs(t, err, payment.ErrInvalidInput)

	_, err = f.coord.CancelOrder(context.Background(), f.orderID, "reason", "", staff(t))
	assert.ErrorIs(t, err, payment.ErrInvalidInput)
}

func TestCoordinator_OrderNotFound(t *testing.T) {
	f := newFixture(t, order.StatusPending, nil)

	missingID, err := uuid.NewV4()
	require.NoError(t, err)

	_, err = f.coord.UpdatePaymentStatus(context.Background(), missingID, order.PaymentPaid, "", staff(t))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.coord.CancelOrder(context.Background(), missingID, "reason", "CARD", staff(t))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}
