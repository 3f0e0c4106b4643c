package payment

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

type RefundStatus string

const (
	RefundPending    RefundStatus = "PENDING"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundCompleted  RefundStatus = "COMPLETED"
	RefundFailed     RefundStatus = "FAILED"
)

// Transaction is the single payment record for an order. Re-verification
// updates this row rather than creating a duplicate; the unique index on
// order_id backs that rule.
type Transaction struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	OrderID    uuid.UUID         `json:"order_id" db:"order_id"`
	Amount     decimal.Decimal   `json:"amount" db:"amount"`
	Method     string            `json:"method" db:"method"`
	Provider   string            `json:"provider" db:"provider"`
	Reference  string            `json:"reference" db:"reference"`
	Status     TransactionStatus `json:"status" db:"status"`
	VerifiedBy *uuid.UUID        `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt *time.Time        `json:"verified_at,omitempty" db:"verified_at"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// Refund tracks the money going back on a cancelled order. Its status is
// the authoritative record of the refund's fate; a FAILED refund on a
// cancelled order is a valid, reportable state awaiting manual follow-up.
type Refund struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrderID      uuid.UUID       `json:"order_id" db:"order_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Reason       string          `json:"reason" db:"reason"`
	Status       RefundStatus    `json:"status" db:"status"`
	RefundMethod string          `json:"refund_method" db:"refund_method"`
	ProcessedBy  uuid.UUID       `json:"processed_by" db:"processed_by"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}
