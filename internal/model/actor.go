package model

// Role names carried in the JWT "role" claim issued by the identity
// service.  The booking service never creates users; it only checks
// that the caller's role permits an operation.
const (
	RoleRenter = "RENTER"
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
)

// Actor identifies the authenticated caller of a request.  It is
// extracted from the bearer token by middleware and passed explicitly
// into every service call so that authorization decisions never rely
// on ambient request state.
type Actor struct {
	ID   uint64 // subject claim of the access token
	Role string // one of RoleRenter, RoleOwner, RoleAdmin
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
