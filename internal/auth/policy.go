package auth

import (
	"errors"

	"github.com/gofrs/uuid"
)

// Operation names a capability this subsystem gates. Every entry point
// evaluates the same policy instead of re-implementing role checks inline.
type Operation string

const (
	OpCreateOrder     Operation = "order.create"
	OpTransitionOrder Operation = "order.transition"
	OpUpdatePayment   Operation = "payment.update"
	OpCancelOrder     Operation = "order.cancel"
	OpViewOrder       Operation = "order.view"
	OpAdjustInventory Operation = "inventory.adjust"
	OpViewLedger      Operation = "inventory.view_ledger"
	OpDeleteLedger    Operation = "inventory.delete_ledger"
)

var ErrForbidden = errors.New("actor is not allowed to perform this operation")

// Can is the single authorization policy: a pure function of the actor, the
// operation, and the owning customer of the resource (uuid.Nil when the
// resource has no owner, e.g. a stock variant). Returns ErrForbidden on
// denial so callers can surface it unwrapped.
func Can(actor Actor, op Operation, owner uuid.UUID) error {
	if !actor.Role.Valid() {
		return ErrForbidden
	}

	switch op {
	case OpTransitionOrder, OpUpdatePayment:
		if !actor.Role.Staff() {
			return ErrForbidden
		}
		return nil
	case OpAdjustInventory:
		if actor.Role != RoleInventoryManager && actor.Role != RoleAdmin {
			return ErrForbidden
		}
		return nil
	case OpDeleteLedger:
		if actor.Role != RoleAdmin {
			return ErrForbidden
		}
		return nil
	case OpViewLedger:
		if !actor.Role.Staff() {
			return ErrForbidden
		}
		return nil
	case OpCreateOrder, OpCancelOrder, OpViewOrder:
		if actor.Role.Staff() {
			return nil
		}
		if actor.Role == RoleCustomer && actor.UserID == owner {
			return nil
		}
		return ErrForbidden
	}

	return ErrForbidden
}
