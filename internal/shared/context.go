package shared

import (
	"context"
	"fmt"
)

// Role is the closed set of company roles an actor can hold.
type Role string

const (
	RoleStaff       Role = "staff"
	RoleSiteManager Role = "site_manager"
	RoleManagement  Role = "management"
	RoleAdmin       Role = "admin"
	RoleSupplier    Role = "supplier"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStaff, RoleSiteManager, RoleManagement, RoleAdmin, RoleSupplier:
		return true
	}
	return false
}

// Actor is the acting identity passed explicitly into every domain call.
type Actor struct {
	UserID    int64
	CompanyID int64
	Role      Role
}

// SystemActor is recorded on automatic transitions.
var SystemActor = Actor{}

// IsSystem reports whether the actor is the system itself.
func (a Actor) IsSystem() bool {
	return a.UserID == 0
}

// IsManagement covers management and admin roles.
func (a Actor) IsManagement() bool {
	return a.Role == RoleManagement || a.Role == RoleAdmin
}

// Buyer reports whether the actor is a non-supplier member of companyID.
func (a Actor) Buyer(companyID int64) bool {
	return a.UserID != 0 && a.CompanyID == companyID && a.Role != RoleSupplier
}

// RequireUser fails with ErrUnauthenticated when no user is attached.
func (a Actor) RequireUser() error {
	if a.UserID == 0 || a.CompanyID == 0 {
		return ErrUnauthenticated
	}
	return nil
}

func (a Actor) String() string {
	return fmt.Sprintf("user=%d company=%d role=%s", a.UserID, a.CompanyID, a.Role)
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok {
		return Actor{}, ErrUnauthenticated
	}
	if err := actor.RequireUser(); err != nil {
		return Actor{}, err
	}
	return actor, nil
}
