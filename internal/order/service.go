package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/inventory"
	"github.com/davkandi/storefront-engine/internal/notify"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusReadyForPickup: true,
		StatusShipped:        true,
	},
	StatusReadyForPickup: {
		StatusDelivered: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var (
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrDirectCancellation rejects CANCELLED as a plain transition target.
	// Cancelling an order also refunds the payment and returns its items to
	// stock, so it only happens through the cancellation flow.
	ErrDirectCancellation = errors.New("orders are cancelled through the cancellation flow, not a status transition")
	// ErrInvalidInput marks request payloads the service refuses to process.
	ErrInvalidInput = errors.New("service: invalid input")
)

// InvalidTransitionError reports the current status and the full allowed
// target set so callers can correct their request instead of retrying.
type InvalidTransitionError struct {
	Current Status
	Target  Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = s.String()
	}
	return fmt.Sprintf("cannot transition order from %s to %s (allowed: %s)",
		e.Current, e.Target, strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func newInvalidTransitionError(current, target Status) *InvalidTransitionError {
	allowed := make([]Status, 0, len(allowedTransitions[current]))
	for s := range allowedTransitions[current] {
		allowed = append(allowed, s)
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return &InvalidTransitionError{Current: current, Target: target, Allowed: allowed}
}

// CanTransition reports whether the state machine permits current -> target.
func CanTransition(current, target Status) bool {
	return allowedTransitions[current][target]
}

// CreateOrderInput carries everything needed to place an order. Item price
// and naming are snapshotted from the catalog by the caller.
type CreateOrderInput struct {
	CustomerID     uuid.UUID
	PaymentMethod  string
	DeliveryMethod string
	DeliveryFee    decimal.Decimal
	Items          []CreateItemInput
}

type CreateItemInput struct {
	ProductID      uuid.UUID
	VariantID      uuid.UUID
	Quantity       int
	Price          decimal.Decimal
	ProductName    string
	VariantDetails string
}

type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput, actor auth.Actor) (*Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, actor auth.Actor) ([]Order, error)
	// Transition moves the order to target if the state machine allows it,
	// stamping completed_at on the first entry into a terminal status.
	// CANCELLED targets are refused with ErrDirectCancellation.
	Transition(ctx context.Context, orderID uuid.UUID, target Status, actor auth.Actor, note string) (*Order, error)
	// CancelInTx drives the order to CANCELLED inside a caller-owned
	// transaction, against an order already locked with FOR UPDATE. This is
	// the only write path into CANCELLED: Transition refuses the target
	// because cancellation also restores stock and opens a refund, which is
	// the payment coordinator's flow. The cancellable-set precondition
	// belongs to the caller.
	CancelInTx(ctx context.Context, tx pgx.Tx, current *Order, actor auth.Actor, note string) error
	StatusLog(ctx context.Context, orderID uuid.UUID, actor auth.Actor) ([]StatusLogEntry, error)
}

type service struct {
	repo     Repository
	stock    inventory.Service
	notifier notify.Notifier
}

func NewService(repo Repository, stock inventory.Service, notifier notify.Notifier) Service {
	return &service{repo: repo, stock: stock, notifier: notifier}
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput, actor auth.Actor) (*Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	if err := auth.Can(actor, auth.OpCreateOrder, input.CustomerID); err != nil {
		log.Warn().Stringer("user_id", actor.UserID).Stringer("customer_id", input.CustomerID).
			Msg("service: actor not allowed to create an order for this customer")
		return nil, err
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrInvalidInput)
	}
	if input.PaymentMethod == "" || input.DeliveryMethod == "" {
		return nil, fmt.Errorf("%w: payment method and delivery method are required", ErrInvalidInput)
	}

	subtotal := decimal.Zero
	items := make([]OrderItem, 0, len(input.Items))
	for _, in := range input.Items {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: order item quantity for product %s must be greater than zero", ErrInvalidInput, in.ProductID)
		}
		if in.Price.IsNegative() {
			return nil, fmt.Errorf("%w: order item price for product %s cannot be negative", ErrInvalidInput, in.ProductID)
		}
		if in.ProductID == uuid.Nil || in.VariantID == uuid.Nil {
			return nil, fmt.Errorf("%w: product id and variant id are required for every item", ErrInvalidInput)
		}

		subtotal = subtotal.Add(in.Price.Mul(decimal.NewFromInt(int64(in.Quantity))))
		items = append(items, OrderItem{
			ProductID:       in.ProductID,
			VariantID:       in.VariantID,
			Quantity:        in.Quantity,
			PriceAtPurchase: in.Price,
			ProductName:     in.ProductName,
			VariantDetails:  in.VariantDetails,
		})
	}

	number, err := generateOrderNumber()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order number: %w", err)
	}

	newOrder := &Order{
		OrderNumber:    number,
		CustomerID:     input.CustomerID,
		Status:         StatusPending,
		PaymentMethod:  input.PaymentMethod,
		PaymentStatus:  PaymentPending,
		DeliveryMethod: input.DeliveryMethod,
		Subtotal:       subtotal,
		DeliveryFee:    input.DeliveryFee,
		Total:          subtotal.Add(input.DeliveryFee),
		Items:          items,
	}

	// Order rows and the SALE ledger entries that reserve stock commit
	// together; insufficient stock on any item aborts the whole order.
	err = s.repo.WithinTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateOrder(ctx, tx, newOrder); err != nil {
			return err
		}

		for _, item := range newOrder.Items {
			orderID := newOrder.ID
			_, err := s.stock.RecordAdjustmentInTx(ctx, tx, inventory.AdjustmentInput{
				VariantID:      item.VariantID,
				ChangeType:     inventory.ChangeSale,
				QuantityChange: -item.Quantity,
				Reason:         fmt.Sprintf("Sale for order %s", newOrder.OrderNumber),
				OrderID:        &orderID,
			}, actor)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrVariantNotFound) {
			log.Warn().Err(err).Str("order_number", number).Msg("service: order rejected on stock check")
			return nil, err
		}
		log.Error().Err(err).Msg("service: failed to create order")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Stringer("order_id", newOrder.ID).Str("order_number", newOrder.OrderNumber).
		Stringer("customer_id", newOrder.CustomerID).Msg("service: order created")

	return newOrder, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}

	if err := auth.Can(actor, auth.OpViewOrder, o.CustomerID); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *service) ListByCustomer(ctx context.Context, customerID uuid.UUID, actor auth.Actor) ([]Order, error) {
	if err := auth.Can(actor, auth.OpViewOrder, customerID); err != nil {
		return nil, err
	}

	orders, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch customer orders: %w", err)
	}
	return orders, nil
}

func (s *service) Transition(ctx context.Context, orderID uuid.UUID, target Status, actor auth.Actor, note string) (*Order, error) {
	if err := auth.Can(actor, auth.OpTransitionOrder, uuid.Nil); err != nil {
		log.Warn().Stringer("user_id", actor.UserID).Str("role", actor.Role.String()).
			Msg("service: actor not allowed to transition orders")
		return nil, err
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, target)
	}
	if target == StatusCancelled {
		return nil, ErrDirectCancellation
	}

	var updated *Order
	var previous Status
	err := s.repo.WithinTx(ctx, func(tx pgx.Tx) error {
		// The status check and the conditional write must be one atomic
		// step, so the precondition is evaluated on the locked row.
		current, err := s.repo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		previous = current.Status

		if !CanTransition(current.Status, target) {
			log.Warn().
				Stringer("order_id", current.ID).
				Str("current_status", current.Status.String()).
				Str("target_status", target.String()).
				Msg("service: invalid status transition attempt")
			return newInvalidTransitionError(current.Status, target)
		}

		if err := s.writeTerminalAwareStatus(ctx, tx, current, target, actor, note); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Str("target", target.String()).
			Msg("service: failed to transition order")
		return nil, fmt.Errorf("service: failed to transition order: %w", err)
	}

	// Fire-and-forget: the notification never joins the transaction and
	// its failure never rolls back the lifecycle change.
	go s.notifier.OrderStatusChanged(notify.StatusChange{
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: previous.String(),
		NewStatus:      target.String(),
	})

	return updated, nil
}

// CancelInTx assumes current was read under FOR UPDATE in tx. It mutates
// current in place on success. A terminal order cannot be cancelled again.
func (s *service) CancelInTx(ctx context.Context, tx pgx.Tx, current *Order, actor auth.Actor, note string) error {
	if current.Status.Terminal() {
		return newInvalidTransitionError(current.Status, StatusCancelled)
	}
	return s.writeTerminalAwareStatus(ctx, tx, current, StatusCancelled, actor, note)
}

// writeTerminalAwareStatus persists the status, stamps completed_at exactly
// once on the first entry into a terminal state, and appends the order's
// audit log entry.
func (s *service) writeTerminalAwareStatus(ctx context.Context, tx pgx.Tx, current *Order, target Status, actor auth.Actor, note string) error {
	var completedAt *time.Time
	if target.Terminal() && current.CompletedAt == nil {
		now := time.Now().UTC()
		completedAt = &now
	}

	if err := s.repo.UpdateStatus(ctx, tx, current.ID, target, completedAt); err != nil {
		return err
	}

	logEntry := &StatusLogEntry{
		OrderID:        current.ID,
		PreviousStatus: current.Status,
		NewStatus:      target,
		Note:           note,
		PerformedBy:    actor.UserID,
	}
	if err := s.repo.AppendStatusLog(ctx, tx, logEntry); err != nil {
		return err
	}

	previous := current.Status
	current.Status = target
	if completedAt != nil {
		current.CompletedAt = completedAt
	}

	log.Info().
		Stringer("order_id", current.ID).
		Str("old_status", previous.String()).
		Str("new_status", target.String()).
		Msg("service: order status updated")

	return nil
}

func (s *service) StatusLog(ctx context.Context, orderID uuid.UUID, actor auth.Actor) ([]StatusLogEntry, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	if err := auth.Can(actor, auth.OpViewOrder, o.CustomerID); err != nil {
		return nil, err
	}

	entries, err := s.repo.StatusLog(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch status log: %w", err)
	}
	return entries, nil
}

// generateOrderNumber produces an ORD-YYYYMMDD-XXXXXX number; the random
// suffix makes collisions on one day vanishingly unlikely, and the unique
// index on order_number catches the rest.
func generateOrderNumber() (string, error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"),
		strings.ToUpper(hex.EncodeToString(suffix))), nil
}
