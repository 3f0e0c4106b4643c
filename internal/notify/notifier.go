package notify

import (
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// StatusChange is delivered on every successful order status transition.
type StatusChange struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
}

// RefundNotice is delivered when a refund record is created.
type RefundNotice struct {
	OrderID  uuid.UUID       `json:"order_id"`
	RefundID uuid.UUID       `json:"refund_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Notifier is the delivery collaborator. Dispatch is best-effort and always
// happens outside the storage transaction: a failed or slow notification
// must never affect the lifecycle write it describes.
type Notifier interface {
	OrderStatusChanged(change StatusChange)
	RefundCreated(notice RefundNotice)
}

// LogNotifier is the default implementation: it only logs. Real delivery
// (email/SMS) lives in a separate service that consumes these events.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) OrderStatusChanged(change StatusChange) {
	log.Info().
		Stringer("order_id", change.OrderID).
		Str("order_number", change.OrderNumber).
		Str("previous_status", change.PreviousStatus).
		Str("new_status", change.NewStatus).
		Msg("notify: order status changed")
}

func (n *LogNotifier) RefundCreated(notice RefundNotice) {
	log.Info().
		Stringer("order_id", notice.OrderID).
		Stringer("refund_id", notice.RefundID).
		Str("amount", notice.Amount.String()).
		Msg("notify: refund created")
}
