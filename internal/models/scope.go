package models

import "github.com/google/uuid"

// Scope is the tenant/outlet context every repository call runs under. It is
// built once from the authenticated request and passed explicitly; nothing in
// the service layer reads tenant or outlet from ambient state.
type Scope struct {
	TenantID uuid.UUID
	OutletID uuid.UUID
	UserID   int
}
