package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a back-office staff member scoped to one tenant and outlet.
type User struct {
	ID        int       `json:"id" example:"1"`
	Email     string    `json:"email" example:"teller@example.com"`
	FirstName string    `json:"first_name" example:"Amina"`
	LastName  string    `json:"last_name" example:"Rahman"`
	TenantID  uuid.UUID `json:"tenant_id"`
	OutletID  uuid.UUID `json:"outlet_id"`
	Role      string    `json:"role" example:"teller"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
