package identity

import (
	"context"

	"github.com/odyssey-erp/buildflow/internal/shared"
)

// CompanyKind separates buying contractors from suppliers.
type CompanyKind string

const (
	KindBuyer    CompanyKind = "buyer"
	KindSupplier CompanyKind = "supplier"
)

// CompanyStatus tracks onboarding of a company.
type CompanyStatus string

const (
	StatusPending   CompanyStatus = "pending"
	StatusApproved  CompanyStatus = "approved"
	StatusSuspended CompanyStatus = "suspended"
)

// Company is an organisation taking part in procurement.
type Company struct {
	ID     int64
	Name   string
	Kind   CompanyKind
	Status CompanyStatus
}

// ApprovedSupplier reports whether orders may be routed to the company.
func (c Company) ApprovedSupplier() bool {
	return c.Kind == KindSupplier && c.Status == StatusApproved
}

// Member links a user to the company and role they act under.
type Member struct {
	UserID    int64
	CompanyID int64
	Role      shared.Role
	Active    bool
}

// Actor converts the membership into the identity passed to domain calls.
func (m Member) Actor() shared.Actor {
	return shared.Actor{UserID: m.UserID, CompanyID: m.CompanyID, Role: m.Role}
}

// Directory resolves companies and memberships.
type Directory interface {
	GetCompany(ctx context.Context, id int64) (Company, error)
	GetMember(ctx context.Context, userID int64) (Member, error)
}
