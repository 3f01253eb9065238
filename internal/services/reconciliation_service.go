package services

import (
	"database/sql"
	"errors"
	"log"

	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/models"
)

// ReconciliationService keeps account balances consistent with the payment
// stream. OnCreate/OnUpdate/OnDelete are the three hooks the payment CRUD
// layer calls, each inside the same SQL transaction that persists the
// payment change, so a failed balance write rolls the whole trigger back.
//
// Only completed payments have a realised balance effect. The direction is
// classified fresh on every trigger from the payment's immutable source
// link; deltas compose, so concurrent triggers on one account serialise on
// the row lock and net out regardless of commit order.
type ReconciliationService struct {
	accounts *AccountService
}

func NewReconciliationService(accounts *AccountService) *ReconciliationService {
	return &ReconciliationService{accounts: accounts}
}

// OnCreate applies the new payment's effect if it was created completed.
func (rs *ReconciliationService) OnCreate(tx *sql.Tx, scope models.Scope, p *models.Payment) error {
	if p.Status != models.PaymentCompleted {
		return nil
	}
	return rs.applyEffect(tx, scope, p, p.Amount)
}

// OnUpdate applies the net balance change implied by a status or amount
// edit. A completed payment leaving completed is fully reversed; an amount
// edit while completed applies only the difference, once.
func (rs *ReconciliationService) OnUpdate(tx *sql.Tx, scope models.Scope, oldP, newP *models.Payment) error {
	wasCompleted := oldP.Status == models.PaymentCompleted
	isCompleted := newP.Status == models.PaymentCompleted

	switch {
	case wasCompleted && !isCompleted:
		return rs.applyEffect(tx, scope, oldP, oldP.Amount.Neg())
	case wasCompleted && isCompleted:
		delta := newP.Amount.Sub(oldP.Amount)
		if delta.IsZero() {
			return nil
		}
		return rs.applyEffect(tx, scope, newP, delta)
	case !wasCompleted && isCompleted:
		return rs.applyEffect(tx, scope, newP, newP.Amount)
	default:
		return nil
	}
}

// OnDelete reverses a completed payment's effect before the row goes away.
func (rs *ReconciliationService) OnDelete(tx *sql.Tx, scope models.Scope, p *models.Payment) error {
	if p.Status != models.PaymentCompleted {
		return nil
	}
	return rs.applyEffect(tx, scope, p, p.Amount.Neg())
}

// applyEffect applies the signed balance change implied by amount and the
// payment's classified direction. amount may be negative (a reversal or a
// downward amendment); it is fed through the same direction either way.
func (rs *ReconciliationService) applyEffect(tx *sql.Tx, scope models.Scope, p *models.Payment, amount models.Money) error {
	if p.AccountID == nil {
		return nil
	}

	src, err := rs.resolveSource(tx, scope, p)
	if err != nil {
		return err
	}

	direction := Classify(src)
	if direction == models.DirectionTransfer {
		return nil
	}

	signed := amount
	if direction == models.DirectionExpense {
		signed = amount.Neg()
	}
	if signed.IsZero() {
		return nil
	}

	account, err := rs.accounts.lockAccount(tx, scope, *p.AccountID)
	if err != nil {
		return err
	}

	log.Printf("[RECONCILE] Payment %s: %s %s on account %s", p.ID, direction, signed, account.ID)
	if signed.IsNegative() {
		return rs.accounts.debitTx(tx, account, signed.Abs())
	}
	return rs.accounts.creditTx(tx, account, signed)
}

// resolveSource loads the classification flags for the payment's single
// entity link. Expense and salary links classify on existence alone, so no
// lookup is needed; a dangling sale or purchase reference resolves to no
// source, which classifies as Transfer and leaves the balance untouched.
func (rs *ReconciliationService) resolveSource(tx *sql.Tx, scope models.Scope, p *models.Payment) (models.PaymentSource, error) {
	kind, id, err := p.SourceRef()
	if err != nil {
		return models.PaymentSource{}, err
	}

	switch kind {
	case models.SourceSale:
		var isReturn bool
		err := tx.QueryRow(`
			SELECT is_return FROM sales
			WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3`,
			id, scope.TenantID, scope.OutletID).Scan(&isReturn)
		if errors.Is(err, sql.ErrNoRows) {
			return models.PaymentSource{}, nil
		}
		if err != nil {
			return models.PaymentSource{}, err
		}
		return models.PaymentSource{Kind: models.SourceSale, IsReturn: isReturn}, nil
	case models.SourcePurchase:
		var isReturn bool
		err := tx.QueryRow(`
			SELECT is_return FROM purchases
			WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3`,
			id, scope.TenantID, scope.OutletID).Scan(&isReturn)
		if errors.Is(err, sql.ErrNoRows) {
			return models.PaymentSource{}, nil
		}
		if err != nil {
			return models.PaymentSource{}, err
		}
		return models.PaymentSource{Kind: models.SourcePurchase, IsReturn: isReturn}, nil
	case models.SourceExpense:
		return models.PaymentSource{Kind: models.SourceExpense}, nil
	case models.SourceSalary:
		return models.PaymentSource{Kind: models.SourceSalary}, nil
	default:
		return models.PaymentSource{}, nil
	}
}
