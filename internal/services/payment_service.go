package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/middleware"
	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/models"
)

// PaymentService is the CRUD surface around payments. Every mutation runs
// the matching reconciliation hook inside the same SQL transaction that
// persists the payment row; a rejected balance write fails the whole call.
type PaymentService struct {
	db         *sql.DB
	accounts   *AccountService
	reconciler *ReconciliationService
	validator  *ValidationHelper
}

func NewPaymentService(db *sql.DB, accounts *AccountService, reconciler *ReconciliationService) *PaymentService {
	return &PaymentService{
		db:         db,
		accounts:   accounts,
		reconciler: reconciler,
		validator:  NewValidationHelper(),
	}
}

// CreatePaymentRequest is the payload for recording a payment. Exactly one
// of the source links may be set; none means a manual transfer.
type CreatePaymentRequest struct {
	AccountID  *uuid.UUID           `json:"accountId"`
	Amount     models.Money         `json:"amount" example:"200.00"`
	Status     models.PaymentStatus `json:"status" example:"completed"`
	SaleID     *uuid.UUID           `json:"saleId"`
	PurchaseID *uuid.UUID           `json:"purchaseId"`
	ExpenseID  *uuid.UUID           `json:"expenseId"`
	SalaryID   *uuid.UUID           `json:"salaryId"`
	Note       string               `json:"note" validate:"max=200"`
}

// UpdatePaymentRequest edits a payment's amount, status or note. The source
// links and the account are immutable; sending a different value is
// rejected, sending the current value is a no-op.
type UpdatePaymentRequest struct {
	Amount     *models.Money         `json:"amount"`
	Status     *models.PaymentStatus `json:"status"`
	Note       *string               `json:"note" validate:"omitempty,max=200"`
	AccountID  *uuid.UUID            `json:"accountId"`
	SaleID     *uuid.UUID            `json:"saleId"`
	PurchaseID *uuid.UUID            `json:"purchaseId"`
	ExpenseID  *uuid.UUID            `json:"expenseId"`
	SalaryID   *uuid.UUID            `json:"salaryId"`
}

// CreatePayment records a payment and reconciles the account balance
// @Summary Create payment
// @Description Record a payment; a completed payment immediately moves the linked account's balance
// @Tags payments
// @Accept json
// @Produce json
// @Param request body CreatePaymentRequest true "Payment data"
// @Success 201 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payments [post]
func (s *PaymentService) CreatePayment(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreatePaymentRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	status := req.Status
	if status == "" {
		status = models.PaymentPending
	}
	if !status.Valid() {
		SendErrorResponse(w, "Invalid payment status", http.StatusBadRequest, nil)
		return
	}

	payment := models.Payment{
		ID:         uuid.New(),
		TenantID:   scope.TenantID,
		OutletID:   scope.OutletID,
		AccountID:  req.AccountID,
		Amount:     req.Amount,
		Status:     status,
		SaleID:     req.SaleID,
		PurchaseID: req.PurchaseID,
		ExpenseID:  req.ExpenseID,
		SalaryID:   req.SalaryID,
		Note:       req.Note,
		CreatedBy:  scope.UserID,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if _, _, err := payment.SourceRef(); err != nil {
		SendErrorResponse(w, "Payment can reference at most one source entity", http.StatusBadRequest, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[PAYMENT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create payment", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// The account link is immutable, so a bad reference caught here would
	// otherwise only surface on a later completion update.
	if payment.AccountID != nil {
		if err := s.verifyAccountRef(tx, scope, *payment.AccountID); err != nil {
			if errors.Is(err, models.ErrAccountNotFound) {
				SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			} else {
				log.Printf("[PAYMENT] Account lookup failed for %s: %v", *payment.AccountID, err)
				SendErrorResponse(w, "Failed to create payment", http.StatusInternalServerError, nil)
			}
			return
		}
	}

	_, err = tx.Exec(`
		INSERT INTO payments
		(id, tenant_id, outlet_id, account_id, amount, status, sale_id, purchase_id, expense_id, salary_id, note, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`,
		payment.ID, payment.TenantID, payment.OutletID, payment.AccountID,
		payment.Amount, payment.Status, payment.SaleID, payment.PurchaseID,
		payment.ExpenseID, payment.SalaryID, payment.Note, payment.CreatedBy)
	if err != nil {
		log.Printf("[PAYMENT] Failed to insert payment: %v", err)
		SendErrorResponse(w, "Failed to create payment", http.StatusInternalServerError, nil)
		return
	}

	if err := s.reconciler.OnCreate(tx, scope, &payment); err != nil {
		s.writeReconcileError(w, payment.ID, err)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[PAYMENT] Failed to commit payment creation: %v", err)
		SendErrorResponse(w, "Failed to create payment", http.StatusInternalServerError, nil)
		return
	}

	if payment.AccountID != nil {
		s.accounts.InvalidateBalanceCache(r.Context(), scope, *payment.AccountID)
	}

	log.Printf("[PAYMENT] Payment created: %s, status: %s, amount: %s", payment.ID, payment.Status, payment.Amount)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(payment)
}

// UpdatePayment edits a payment and applies the net balance change
// @Summary Update payment
// @Description Edit a payment's amount, status or note; the balance moves by the net difference only
// @Tags payments
// @Accept json
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Param request body UpdatePaymentRequest true "Fields to change"
// @Success 200 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payments/{paymentId} [put]
func (s *PaymentService) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		SendErrorResponse(w, "Invalid payment ID", http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req UpdatePaymentRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount != nil && !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		SendErrorResponse(w, "Invalid payment status", http.StatusBadRequest, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[PAYMENT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to update payment", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	oldPayment, err := s.lockPayment(tx, scope, paymentID)
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[PAYMENT] Failed to lock payment %s: %v", paymentID, err)
			SendErrorResponse(w, "Failed to update payment", http.StatusInternalServerError, nil)
		}
		return
	}

	if err := checkImmutableLinks(oldPayment, &req); err != nil {
		SendErrorResponse(w, "Payment source link cannot be changed", http.StatusBadRequest, nil)
		return
	}

	newPayment := *oldPayment
	if req.Amount != nil {
		newPayment.Amount = *req.Amount
	}
	if req.Status != nil {
		newPayment.Status = *req.Status
	}
	if req.Note != nil {
		newPayment.Note = *req.Note
	}
	newPayment.UpdatedAt = time.Now()

	if err := s.reconciler.OnUpdate(tx, scope, oldPayment, &newPayment); err != nil {
		s.writeReconcileError(w, paymentID, err)
		return
	}

	_, err = tx.Exec(`
		UPDATE payments SET amount = $1, status = $2, note = $3, updated_at = NOW()
		WHERE id = $4`,
		newPayment.Amount, newPayment.Status, newPayment.Note, newPayment.ID)
	if err != nil {
		log.Printf("[PAYMENT] Failed to update payment %s: %v", paymentID, err)
		SendErrorResponse(w, "Failed to update payment", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[PAYMENT] Failed to commit payment update: %v", err)
		SendErrorResponse(w, "Failed to update payment", http.StatusInternalServerError, nil)
		return
	}

	if newPayment.AccountID != nil {
		s.accounts.InvalidateBalanceCache(r.Context(), scope, *newPayment.AccountID)
	}

	log.Printf("[PAYMENT] Payment updated: %s, status: %s -> %s, amount: %s -> %s",
		paymentID, oldPayment.Status, newPayment.Status, oldPayment.Amount, newPayment.Amount)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newPayment)
}

// DeletePayment removes a payment, reversing its balance effect
// @Summary Delete payment
// @Description Delete a payment; a completed payment's balance effect is reversed first
// @Tags payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payments/{paymentId} [delete]
func (s *PaymentService) DeletePayment(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		SendErrorResponse(w, "Invalid payment ID", http.StatusBadRequest, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[PAYMENT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to delete payment", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	payment, err := s.lockPayment(tx, scope, paymentID)
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[PAYMENT] Failed to lock payment %s: %v", paymentID, err)
			SendErrorResponse(w, "Failed to delete payment", http.StatusInternalServerError, nil)
		}
		return
	}

	if err := s.reconciler.OnDelete(tx, scope, payment); err != nil {
		s.writeReconcileError(w, paymentID, err)
		return
	}

	if _, err := tx.Exec(`DELETE FROM payments WHERE id = $1`, paymentID); err != nil {
		log.Printf("[PAYMENT] Failed to delete payment %s: %v", paymentID, err)
		SendErrorResponse(w, "Failed to delete payment", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[PAYMENT] Failed to commit payment deletion: %v", err)
		SendErrorResponse(w, "Failed to delete payment", http.StatusInternalServerError, nil)
		return
	}

	if payment.AccountID != nil {
		s.accounts.InvalidateBalanceCache(r.Context(), scope, *payment.AccountID)
	}

	log.Printf("[PAYMENT] Payment deleted: %s", paymentID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Payment deleted"})
}

// GetPayment retrieves a specific payment
// @Summary Get payment by ID
// @Tags payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payments/{paymentId} [get]
func (s *PaymentService) GetPayment(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		SendErrorResponse(w, "Invalid payment ID", http.StatusBadRequest, nil)
		return
	}

	payment, err := s.fetchPayment(scope, paymentID)
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[PAYMENT] Failed to fetch payment %s: %v", paymentID, err)
			SendErrorResponse(w, "Failed to fetch payment", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// ListPayments retrieves payments with optional filters
// @Summary List payments
// @Tags payments
// @Produce json
// @Param accountId query string false "Filter by account ID"
// @Param status query string false "Filter by status"
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} object{payments=[]models.Payment,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /payments [get]
func (s *PaymentService) ListPayments(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var conditions []string
	args := []interface{}{scope.TenantID, scope.OutletID}
	argIndex := 3

	if accountID := r.URL.Query().Get("accountId"); accountID != "" {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIndex))
		args = append(args, accountID)
		argIndex++
	}
	if status := r.URL.Query().Get("status"); status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	query := `
		SELECT id, tenant_id, outlet_id, account_id, amount, status, sale_id, purchase_id, expense_id, salary_id, note, created_by, created_at, updated_at
		FROM payments
		WHERE tenant_id = $1 AND outlet_id = $2`
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[PAYMENT] Failed to list payments: %v", err)
		SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.TenantID, &p.OutletID, &p.AccountID,
			&p.Amount, &p.Status, &p.SaleID, &p.PurchaseID, &p.ExpenseID,
			&p.SalaryID, &p.Note, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			log.Printf("[PAYMENT] Failed to scan payment row: %v", err)
			SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
			return
		}
		payments = append(payments, p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
	})
}

// lockPayment loads the payment row under FOR UPDATE so concurrent edits of
// the same payment serialise before reconciliation runs.
func (s *PaymentService) lockPayment(tx *sql.Tx, scope models.Scope, paymentID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := tx.QueryRow(`
		SELECT id, tenant_id, outlet_id, account_id, amount, status, sale_id, purchase_id, expense_id, salary_id, note, created_by, created_at, updated_at
		FROM payments
		WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3
		FOR UPDATE`,
		paymentID, scope.TenantID, scope.OutletID).
		Scan(&p.ID, &p.TenantID, &p.OutletID, &p.AccountID, &p.Amount, &p.Status,
			&p.SaleID, &p.PurchaseID, &p.ExpenseID, &p.SalaryID, &p.Note,
			&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PaymentService) fetchPayment(scope models.Scope, paymentID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := s.db.QueryRow(`
		SELECT id, tenant_id, outlet_id, account_id, amount, status, sale_id, purchase_id, expense_id, salary_id, note, created_by, created_at, updated_at
		FROM payments
		WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3`,
		paymentID, scope.TenantID, scope.OutletID).
		Scan(&p.ID, &p.TenantID, &p.OutletID, &p.AccountID, &p.Amount, &p.Status,
			&p.SaleID, &p.PurchaseID, &p.ExpenseID, &p.SalaryID, &p.Note,
			&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// verifyAccountRef checks the referenced account exists in the caller's
// tenant and outlet before a payment row may point at it.
func (s *PaymentService) verifyAccountRef(tx *sql.Tx, scope models.Scope, accountID uuid.UUID) error {
	var exists bool
	err := tx.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM accounts
			WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3
		)`,
		accountID, scope.TenantID, scope.OutletID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return models.ErrAccountNotFound
	}
	return nil
}

// checkImmutableLinks rejects update payloads that try to repoint the
// payment at a different account or source entity.
func checkImmutableLinks(current *models.Payment, req *UpdatePaymentRequest) error {
	if linkChanged(current.AccountID, req.AccountID) ||
		linkChanged(current.SaleID, req.SaleID) ||
		linkChanged(current.PurchaseID, req.PurchaseID) ||
		linkChanged(current.ExpenseID, req.ExpenseID) ||
		linkChanged(current.SalaryID, req.SalaryID) {
		return models.ErrSourceImmutable
	}
	return nil
}

func linkChanged(current, requested *uuid.UUID) bool {
	if requested == nil {
		return false
	}
	return current == nil || *current != *requested
}

func (s *PaymentService) writeReconcileError(w http.ResponseWriter, paymentID uuid.UUID, err error) {
	var insufficient *models.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		log.Printf("[PAYMENT] Reconciliation rejected for %s: %v", paymentID, err)
		SendErrorResponse(w, insufficient.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, models.ErrConcurrentModification):
		log.Printf("[PAYMENT] Concurrent modification on %s", paymentID)
		SendErrorResponse(w, "Account was modified concurrently, retry the request", http.StatusConflict, nil)
	case errors.Is(err, models.ErrAccountNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	case errors.Is(err, models.ErrAmbiguousSource):
		SendErrorResponse(w, "Payment can reference at most one source entity", http.StatusBadRequest, nil)
	default:
		log.Printf("[PAYMENT] Reconciliation failed for %s: %v", paymentID, err)
		SendErrorResponse(w, "Failed to reconcile account balance", http.StatusInternalServerError, nil)
	}
}
