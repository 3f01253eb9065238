package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a money-holding bucket (cash drawer, bank, mobile wallet) owned
// by an outlet. OpeningBalance never changes after creation; CurrentBalance
// is mutated only through the account service's guarded credit/debit
// operations. Version backs the optimistic lock on every balance write.
type Account struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	OutletID       uuid.UUID `json:"outlet_id"`
	Name           string    `json:"name"`
	OpeningBalance Money     `json:"opening_balance"`
	CurrentBalance Money     `json:"current_balance"`
	IsDefault      bool      `json:"is_default"`
	IsActive       bool      `json:"is_active"`
	Version        int       `json:"version"`
	CreatedBy      int       `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
