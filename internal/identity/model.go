package identity

import "time"

// Role gates which operations an actor may perform.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// CanApprove reports whether the role may act on the staff approval track.
func (r Role) CanApprove() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Actor is an authenticated principal of the portal.
type Actor struct {
	ID              string
	Username        string
	FullName        string
	Role            Role
	Disabled        bool
	ApprovalPINHash []byte
	CreatedAt       time.Time
}

// HasApprovalPIN reports whether a second-factor PIN has been provisioned.
func (a Actor) HasApprovalPIN() bool {
	return len(a.ApprovalPINHash) > 0
}

// Owner is the public projection of an actor shown alongside payments.
type Owner struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// OwnerView projects the actor to its public fields.
func (a Actor) OwnerView() Owner {
	return Owner{ID: a.ID, Username: a.Username, FullName: a.FullName}
}

// NewActor request structure.
type NewActor struct {
	Username string
	FullName string
	Role     Role
}
