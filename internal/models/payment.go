package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentCancelled, PaymentFailed:
		return true
	}
	return false
}

// SourceKind identifies the business entity a payment settles.
type SourceKind string

const (
	SourceNone     SourceKind = ""
	SourceSale     SourceKind = "sale"
	SourcePurchase SourceKind = "purchase"
	SourceExpense  SourceKind = "expense"
	SourceSalary   SourceKind = "salary"
)

// PaymentSource is the resolved snapshot of a payment's entity link, the only
// input the classifier reads. IsReturn is meaningful for sales and purchases.
type PaymentSource struct {
	Kind     SourceKind
	IsReturn bool
}

// Direction is the classified effect of a payment on an account balance.
// The numeric value is the sign applied to the payment amount.
type Direction int8

const (
	DirectionTransfer Direction = 0
	DirectionIncome   Direction = 1
	DirectionExpense  Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionIncome:
		return "income"
	case DirectionExpense:
		return "expense"
	default:
		return "transfer"
	}
}

// Payment is a money movement against an optional account. At most one of the
// source links is set; the link is immutable after creation and drives
// classification only, never the amount.
type Payment struct {
	ID         uuid.UUID     `json:"id"`
	TenantID   uuid.UUID     `json:"tenant_id"`
	OutletID   uuid.UUID     `json:"outlet_id"`
	AccountID  *uuid.UUID    `json:"account_id,omitempty"`
	Amount     Money         `json:"amount"`
	Status     PaymentStatus `json:"status"`
	SaleID     *uuid.UUID    `json:"sale_id,omitempty"`
	PurchaseID *uuid.UUID    `json:"purchase_id,omitempty"`
	ExpenseID  *uuid.UUID    `json:"expense_id,omitempty"`
	SalaryID   *uuid.UUID    `json:"salary_id,omitempty"`
	Note       string        `json:"note,omitempty"`
	CreatedBy  int           `json:"created_by"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SourceRef returns the payment's single entity link. The schema allows one
// link at a time; more than one populated link is rejected rather than
// resolved by rule order.
func (p *Payment) SourceRef() (SourceKind, *uuid.UUID, error) {
	kind := SourceNone
	var id *uuid.UUID
	links := 0
	if p.SaleID != nil {
		kind, id = SourceSale, p.SaleID
		links++
	}
	if p.PurchaseID != nil {
		kind, id = SourcePurchase, p.PurchaseID
		links++
	}
	if p.ExpenseID != nil {
		kind, id = SourceExpense, p.ExpenseID
		links++
	}
	if p.SalaryID != nil {
		kind, id = SourceSalary, p.SalaryID
		links++
	}
	if links > 1 {
		return SourceNone, nil, ErrAmbiguousSource
	}
	return kind, id, nil
}
