package inventory

import (
	"time"

	"github.com/gofrs/uuid"
)

type ChangeType string

const (
	ChangeSale       ChangeType = "SALE"
	ChangeRestock    ChangeType = "RESTOCK"
	ChangeAdjustment ChangeType = "ADJUSTMENT"
	ChangeReturn     ChangeType = "RETURN"
)

func (ct ChangeType) String() string {
	return string(ct)
}

func (ct ChangeType) Valid() bool {
	switch ct {
	case ChangeSale, ChangeRestock, ChangeAdjustment, ChangeReturn:
		return true
	}
	return false
}

// VariantStock is the current absolute quantity for one sellable variant.
// Mutated only through the ledger's apply path.
type VariantStock struct {
	VariantID uuid.UUID `json:"variant_id" db:"variant_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of one stock change. NewQuantity must
// equal PreviousQuantity + QuantityChange; the identity is checked at write
// time and never re-derived afterwards. Annotation is the only field that
// may change after creation.
type LedgerEntry struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	VariantID        uuid.UUID  `json:"variant_id" db:"variant_id"`
	ChangeType       ChangeType `json:"change_type" db:"change_type"`
	QuantityChange   int        `json:"quantity_change" db:"quantity_change"`
	PreviousQuantity int        `json:"previous_quantity" db:"previous_quantity"`
	NewQuantity      int        `json:"new_quantity" db:"new_quantity"`
	Reason           string     `json:"reason" db:"reason"`
	Annotation       string     `json:"annotation,omitempty" db:"annotation"`
	PerformedBy      uuid.UUID  `json:"performed_by" db:"performed_by"`
	OrderID          *uuid.UUID `json:"order_id,omitempty" db:"order_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// HistoryFilter narrows and pages the ledger history for a variant.
type HistoryFilter struct {
	ChangeType ChangeType
	OrderID    uuid.UUID
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
