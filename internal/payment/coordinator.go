package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/inventory"
	"github.com/davkandi/storefront-engine/internal/notify"
	"github.com/davkandi/storefront-engine/internal/order"
)

var (
	ErrCannotCancel    = errors.New("order can no longer be cancelled")
	ErrAlreadyRefunded = errors.New("order has already been refunded")
	// ErrInvalidInput marks request payloads the coordinator refuses to process.
	ErrInvalidInput = errors.New("coordinator: invalid input")
)

// cancellable is the set of statuses from which an order may still be
// cancelled.
var cancellable = map[order.Status]bool{
	order.StatusPending:    true,
	order.StatusConfirmed:  true,
	order.StatusProcessing: true,
}

// Coordinator keeps order payment state, the transaction record, and stock
// consistent across the payment-update and cancellation flows.
type Coordinator interface {
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status order.PaymentStatus, reference string, actor auth.Actor) (*Transaction, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason, refundMethod string, actor auth.Actor) (*Refund, error)
	GetTransaction(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*Transaction, error)
	ListRefunds(ctx context.Context, orderID uuid.UUID, actor auth.Actor) ([]Refund, error)
}

type coordinator struct {
	repo     Repository
	orders   order.Repository
	orderSvc order.Service
	stock    inventory.Service
	gateway  RefundGateway
	notifier notify.Notifier
}

func NewCoordinator(repo Repository, orders order.Repository, orderSvc order.Service, stock inventory.Service, gateway RefundGateway, notifier notify.Notifier) Coordinator {
	return &coordinator{
		repo:     repo,
		orders:   orders,
		orderSvc: orderSvc,
		stock:    stock,
		gateway:  gateway,
		notifier: notifier,
	}
}

// UpdatePaymentStatus synchronizes the order's payment fields with its
// single transaction record. PAID is the only status that stamps
// verified_at / verified_by.
func (c *coordinator) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status order.PaymentStatus, reference string, actor auth.Actor) (*Transaction, error) {
	if err := auth.Can(actor, auth.OpUpdatePayment, uuid.Nil); err != nil {
		log.Warn().Stringer("user_id", actor.UserID).Str("role", actor.Role.String()).
			Msg("coordinator: actor not allowed to update payment status")
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, status)
	}

	var txn *Transaction
	err := c.repo.WithinTx(ctx, func(tx pgx.Tx) error {
		current, err := c.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := c.orders.UpdatePayment(ctx, tx, orderID, status, reference); err != nil {
			return err
		}

		txn = &Transaction{
			OrderID:   orderID,
			Amount:    current.Total,
			Method:    current.PaymentMethod,
			Reference: reference,
			Status:    transactionStatusFor(status),
		}
		if status == order.PaymentPaid {
			now := time.Now().UTC()
			verifier := actor.UserID
			txn.VerifiedAt = &now
			txn.VerifiedBy = &verifier
		}

		return c.repo.UpsertTransaction(ctx, tx, txn)
	})
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Str("status", status.String()).
			Msg("coordinator: failed to update payment status")
		return nil, fmt.Errorf("coordinator: failed to update payment status: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Str("payment_status", status.String()).
		Msg("coordinator: payment status updated")

	return txn, nil
}

func transactionStatusFor(ps order.PaymentStatus) TransactionStatus {
	switch ps {
	case order.PaymentPaid:
		return TransactionCompleted
	case order.PaymentFailed:
		return TransactionFailed
	default:
		return TransactionPending
	}
}

// CancelOrder cancels a still-cancellable order and makes the customer
// whole: one transaction creates the refund record, drives the state
// machine to CANCELLED, marks the payment refunded, and returns every item
// to stock. The external gateway call runs after commit; its failure is
// recorded on the refund, never rolled back into the cancellation.
func (c *coordinator) CancelOrder(ctx context.Context, orderID uuid.UUID, reason, refundMethod string, actor auth.Actor) (*Refund, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrInvalidInput)
	}
	if refundMethod == "" {
		return nil, fmt.Errorf("%w: refund method is required", ErrInvalidInput)
	}

	var (
		refund     *Refund
		cancelled  *order.Order
		previous   order.Status
		paymentRef string
	)
	err := c.repo.WithinTx(ctx, func(tx pgx.Tx) error {
		// Preconditions are evaluated on the locked row so a racing
		// cancellation or status change cannot slip between check and act.
		current, err := c.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := auth.Can(actor, auth.OpCancelOrder, current.CustomerID); err != nil {
			log.Warn().Stringer("user_id", actor.UserID).Stringer("order_id", orderID).
				Msg("coordinator: actor not allowed to cancel this order")
			return err
		}

		if current.PaymentStatus == order.PaymentRefunded {
			return ErrAlreadyRefunded
		}
		if !cancellable[current.Status] {
			return fmt.Errorf("%w: status is %s", ErrCannotCancel, current.Status)
		}

		refund = &Refund{
			OrderID:      orderID,
			Amount:       current.Total,
			Reason:       reason,
			Status:       RefundPending,
			RefundMethod: refundMethod,
			ProcessedBy:  actor.UserID,
		}
		if err := c.repo.CreateRefund(ctx, tx, refund); err != nil {
			return err
		}

		previous = current.Status
		if err := c.orderSvc.CancelInTx(ctx, tx, current, actor, reason); err != nil {
			return err
		}

		if err := c.orders.UpdatePayment(ctx, tx, orderID, order.PaymentRefunded, ""); err != nil {
			return err
		}

		items, err := c.orders.GetItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			oid := orderID
			_, err := c.stock.RecordAdjustmentInTx(ctx, tx, inventory.AdjustmentInput{
				VariantID:      item.VariantID,
				ChangeType:     inventory.ChangeReturn,
				QuantityChange: item.Quantity,
				Reason:         fmt.Sprintf("Return for cancelled order %s", current.OrderNumber),
				OrderID:        &oid,
			}, actor)
			if err != nil {
				return err
			}
		}

		cancelled = current
		paymentRef = current.PaymentReference
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound),
			errors.Is(err, ErrCannotCancel),
			errors.Is(err, ErrAlreadyRefunded),
			errors.Is(err, auth.ErrForbidden),
			errors.Is(err, order.ErrInvalidTransition):
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("coordinator: failed to cancel order")
		return nil, fmt.Errorf("coordinator: failed to cancel order: %w", err)
	}

	c.settleRefund(ctx, refund, paymentRef)

	go c.notifier.OrderStatusChanged(notify.StatusChange{
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.OrderNumber,
		PreviousStatus: previous.String(),
		NewStatus:      order.StatusCancelled.String(),
	})
	go c.notifier.RefundCreated(notify.RefundNotice{
		OrderID:  refund.OrderID,
		RefundID: refund.ID,
		Amount:   refund.Amount,
	})

	log.Info().Stringer("order_id", orderID).Stringer("refund_id", refund.ID).
		Str("refund_status", string(refund.Status)).Msg("coordinator: order cancelled")

	return refund, nil
}

// settleRefund drives the refund through the external gateway after the
// cancellation has committed. A rejected or failed call leaves the refund
// FAILED for manual remediation; the cancelled order stands either way.
func (c *coordinator) settleRefund(ctx context.Context, refund *Refund, paymentRef string) {
	gwErr := c.gateway.Refund(ctx, RefundRequest{
		Amount:                   refund.Amount,
		ExternalPaymentReference: paymentRef,
	})

	status := RefundProcessing
	var processedAt *time.Time
	if gwErr != nil {
		status = RefundFailed
		log.Error().Err(gwErr).Stringer("refund_id", refund.ID).
			Msg("coordinator: refund gateway rejected the refund, flagged for manual follow-up")
	} else {
		now := time.Now().UTC()
		processedAt = &now
	}

	if err := c.repo.UpdateRefundStatus(ctx, refund.ID, status, processedAt); err != nil {
		log.Error().Err(err).Stringer("refund_id", refund.ID).
			Msg("coordinator: failed to record refund gateway outcome")
		return
	}
	refund.Status = status
	refund.ProcessedAt = processedAt
}

func (c *coordinator) GetTransaction(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*Transaction, error) {
	if err := auth.Can(actor, auth.OpUpdatePayment, uuid.Nil); err != nil {
		return nil, err
	}

	txn, err := c.repo.GetTransactionByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("coordinator: failed to fetch transaction: %w", err)
	}
	return txn, nil
}

func (c *coordinator) ListRefunds(ctx context.Context, orderID uuid.UUID, actor auth.Actor) ([]Refund, error) {
	o, err := c.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("coordinator: failed to fetch order: %w", err)
	}
	if err := auth.Can(actor, auth.OpViewOrder, o.CustomerID); err != nil {
		return nil, err
	}

	refunds, err := c.repo.GetRefundsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: failed to fetch refunds: %w", err)
	}
	return refunds, nil
}
