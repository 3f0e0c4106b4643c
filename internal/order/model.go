package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusProcessing     Status = "PROCESSING"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusReadyForPickup,
		StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (ps PaymentStatus) String() string {
	return string(ps)
}

func (ps PaymentStatus) Valid() bool {
	switch ps {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// OrderItem is an immutable snapshot of a purchased variant, kept as a
// historical fact independent of later catalog edits.
type OrderItem struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	OrderID         uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID       uuid.UUID       `json:"product_id" db:"product_id"`
	VariantID       uuid.UUID       `json:"variant_id" db:"variant_id"`
	Quantity        int             `json:"quantity" db:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase" db:"price_at_purchase"`
	ProductName     string          `json:"product_name" db:"product_name"`
	VariantDetails  string          `json:"variant_details" db:"variant_details"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type Order struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	OrderNumber      string          `json:"order_number" db:"order_number"`
	CustomerID       uuid.UUID       `json:"customer_id" db:"customer_id"`
	Status           Status          `json:"status" db:"status"`
	PaymentMethod    string          `json:"payment_method" db:"payment_method"`
	PaymentStatus    PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty" db:"payment_reference"`
	DeliveryMethod   string          `json:"delivery_method" db:"delivery_method"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee" db:"delivery_fee"`
	Total            decimal.Decimal `json:"total" db:"total"`
	Items            []OrderItem     `json:"items" db:"-"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// StatusLogEntry is one row of the order's own append-only audit log. It
// shares the ledger's append-only pattern, not its table.
type StatusLogEntry struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrderID        uuid.UUID `json:"order_id" db:"order_id"`
	PreviousStatus Status    `json:"previous_status" db:"previous_status"`
	NewStatus      Status    `json:"new_status" db:"new_status"`
	Note           string    `json:"note,omitempty" db:"note"`
	PerformedBy    uuid.UUID `json:"performed_by" db:"performed_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
