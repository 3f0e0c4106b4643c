package auth

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
)

type Role string

const (
	RoleCustomer         Role = "CUSTOMER"
	RoleSalesStaff       Role = "SALES_STAFF"
	RoleInventoryManager Role = "INVENTORY_MANAGER"
	RoleAdmin            Role = "ADMIN"
)

func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSalesStaff, RoleInventoryManager, RoleAdmin:
		return true
	}
	return false
}

// Staff reports whether r is a back-office role.
func (r Role) Staff() bool {
	return r == RoleSalesStaff || r == RoleInventoryManager || r == RoleAdmin
}

// Actor is the authenticated identity performing an operation. Identity
// verification happens upstream; this subsystem trusts the fields but
// enforces its own authorization rules on them.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

var ErrNoActor = errors.New("no actor in context")

type actorCtxKey struct{}

// WithActor returns a child context carrying the actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext extracts the actor placed by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(actorCtxKey{}).(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}
