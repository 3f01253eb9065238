package models

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrConcurrentModification means the optimistic version check on a
	// balance write lost a race; the caller should retry the whole trigger.
	ErrConcurrentModification = errors.New("account modified concurrently")

	// ErrAmbiguousSource means a payment carries more than one entity link.
	ErrAmbiguousSource = errors.New("payment references more than one source entity")

	// ErrSourceImmutable means an update tried to change a payment's entity
	// link or account after creation.
	ErrSourceImmutable = errors.New("payment source link cannot be changed")
)

// InsufficientBalanceError rejects a debit that would overdraw an account,
// including debits originating from reconciliation.
type InsufficientBalanceError struct {
	AccountName string
	Available   Money
	Requested   Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %q: available %s, requested %s",
		e.AccountName, e.Available, e.Requested)
}
