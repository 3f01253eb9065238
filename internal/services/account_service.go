package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/middleware"
	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/models"
)

const balanceCacheTTL = 30 * time.Second

// AccountService owns the account rows and the guarded balance primitives.
// Balance mutations happen only through creditTx/debitTx on a row locked by
// lockAccount, inside the caller's SQL transaction.
type AccountService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB, redisClient *redis.Client) *AccountService {
	return &AccountService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// CreateAccountRequest is the payload for creating an account.
type CreateAccountRequest struct {
	Name           string       `json:"name" validate:"required,min=2,max=100" example:"Front Counter Cash"`
	OpeningBalance models.Money `json:"openingBalance" example:"1000.00"`
	IsDefault      bool         `json:"isDefault"`
}

// CreateAccount creates a money-holding account for the caller's outlet
// @Summary Create account
// @Description Create an account with an immutable opening balance
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body CreateAccountRequest true "Account data"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [post]
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateAccountRequest
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

	if req.OpeningBalance.IsNegative() {
		SendErrorResponse(w, "Opening balance cannot be negative", http.StatusBadRequest, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[ACCOUNT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if req.IsDefault {
		if err := s.clearDefaultTx(tx, scope); err != nil {
			log.Printf("[ACCOUNT] Failed to clear default flags: %v", err)
			SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
			return
		}
	}

	account := models.Account{
		ID:             uuid.New(),
		TenantID:       scope.TenantID,
		OutletID:       scope.OutletID,
		Name:           req.Name,
		OpeningBalance: req.OpeningBalance,
		CurrentBalance: req.OpeningBalance,
		IsDefault:      req.IsDefault,
		IsActive:       true,
		Version:        1,
		CreatedBy:      scope.UserID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO accounts
		(id, tenant_id, outlet_id, name, opening_balance, current_balance, is_default, is_active, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
		account.ID, account.TenantID, account.OutletID, account.Name,
		account.OpeningBalance, account.CurrentBalance, account.IsDefault,
		account.IsActive, account.Version, account.CreatedBy)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to insert account: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Failed to commit account creation: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Account created: %s (%s)", account.ID, account.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListAccounts lists the caller outlet's accounts
// @Summary List accounts
// @Description List accounts for the authenticated tenant and outlet
// @Tags accounts
// @Produce json
// @Param active query bool false "Only active accounts"
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /accounts [get]
func (s *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `
		SELECT id, tenant_id, outlet_id, name, opening_balance, current_balance, is_default, is_active, version, created_by, created_at, updated_at
		FROM accounts
		WHERE tenant_id = $1 AND outlet_id = $2`
	args := []interface{}{scope.TenantID, scope.OutletID}

	if r.URL.Query().Get("active") == "true" {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to list accounts: %v", err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.OutletID, &a.Name,
			&a.OpeningBalance, &a.CurrentBalance, &a.IsDefault, &a.IsActive,
			&a.Version, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			log.Printf("[ACCOUNT] Failed to scan account row: %v", err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccountBalance returns an account's current balance
// @Summary Get account balance
// @Description Retrieve the running balance for one account (cache-assisted)
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{responseCode=string,accountId=string,availableBalance=string,source=string}
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (s *AccountService) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	if s.redis != nil {
		cached, err := s.redis.Get(r.Context(), balanceCacheKey(scope, accountID)).Result()
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"responseCode":     "00",
				"accountId":        accountID,
				"availableBalance": cached,
				"source":           "cache",
			})
			return
		}
	}

	var balance models.Money
	err = s.db.QueryRow(`
		SELECT current_balance FROM accounts
		WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3`,
		accountID, scope.TenantID, scope.OutletID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Balance lookup failed for %s: %v", accountID, err)
			SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		}
		return
	}

	if s.redis != nil {
		if err := s.redis.Set(r.Context(), balanceCacheKey(scope, accountID), balance.String(), balanceCacheTTL).Err(); err != nil {
			log.Printf("[ACCOUNT] Failed to cache balance for %s: %v", accountID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"responseCode":     "00",
		"accountId":        accountID,
		"availableBalance": balance.String(),
		"source":           "local",
	})
}

// SetDefaultAccount marks one account as the outlet default
// @Summary Set default account
// @Description Atomically move the default flag to this account
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{accountId}/default [put]
func (s *AccountService) SetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[ACCOUNT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, scope, accountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Failed to lock account %s: %v", accountID, err)
			SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		}
		return
	}

	if !account.IsActive {
		SendErrorResponse(w, "Account is not active", http.StatusConflict, nil)
		return
	}

	if err := s.clearDefaultTx(tx, scope); err != nil {
		log.Printf("[ACCOUNT] Failed to clear default flags: %v", err)
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}

	if _, err := tx.Exec(`
		UPDATE accounts SET is_default = true, updated_at = NOW()
		WHERE id = $1`, accountID); err != nil {
		log.Printf("[ACCOUNT] Failed to set default flag on %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Failed to commit default change: %v", err)
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Default account moved to %s", accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Default account updated"})
}

// DeactivateAccount soft-deactivates an account
// @Summary Deactivate account
// @Description Soft-deactivate an account; accounts referenced by payments are never deleted
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{accountId}/deactivate [put]
func (s *AccountService) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.Exec(`
		UPDATE accounts SET is_active = false, is_default = false, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3`,
		accountID, scope.TenantID, scope.OutletID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to deactivate account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to deactivate account", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to deactivate account", http.StatusInternalServerError, nil)
		return
	}
	if rowsAffected == 0 {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ACCOUNT] Account deactivated: %s", accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Account deactivated"})
}

// Ledger primitives

// lockAccount loads the account row under FOR UPDATE, serialising every
// balance mutation on the same account for the life of tx.
func (s *AccountService) lockAccount(tx *sql.Tx, scope models.Scope, accountID uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRow(`
		SELECT id, name, opening_balance, current_balance, is_default, is_active, version
		FROM accounts
		WHERE id = $1 AND tenant_id = $2 AND outlet_id = $3
		FOR UPDATE`,
		accountID, scope.TenantID, scope.OutletID).
		Scan(&a.ID, &a.Name, &a.OpeningBalance, &a.CurrentBalance, &a.IsDefault, &a.IsActive, &a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.TenantID = scope.TenantID
	a.OutletID = scope.OutletID
	return &a, nil
}

// creditTx increases the locked account's balance. Credits never fail for
// insufficient funds.
func (s *AccountService) creditTx(tx *sql.Tx, account *models.Account, amount models.Money) error {
	return s.writeBalance(tx, account, account.CurrentBalance.Add(amount))
}

// debitTx decreases the locked account's balance, refusing to overdraw.
func (s *AccountService) debitTx(tx *sql.Tx, account *models.Account, amount models.Money) error {
	if amount.GreaterThan(account.CurrentBalance) {
		return &models.InsufficientBalanceError{
			AccountName: account.Name,
			Available:   account.CurrentBalance,
			Requested:   amount,
		}
	}
	return s.writeBalance(tx, account, account.CurrentBalance.Sub(amount))
}

func (s *AccountService) writeBalance(tx *sql.Tx, account *models.Account, newBalance models.Money) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET current_balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		newBalance, account.ID, account.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return models.ErrConcurrentModification
	}

	account.CurrentBalance = newBalance
	account.Version++
	return nil
}

func (s *AccountService) clearDefaultTx(tx *sql.Tx, scope models.Scope) error {
	_, err := tx.Exec(`
		UPDATE accounts SET is_default = false, updated_at = NOW()
		WHERE tenant_id = $1 AND outlet_id = $2 AND is_default = true`,
		scope.TenantID, scope.OutletID)
	return err
}

// InvalidateBalanceCache drops the cached balance after a reconciliation
// commit so enquiries never serve a stale figure past the TTL window.
func (s *AccountService) InvalidateBalanceCache(ctx context.Context, scope models.Scope, accountID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, balanceCacheKey(scope, accountID)).Err(); err != nil {
		log.Printf("[ACCOUNT] Failed to invalidate balance cache for %s: %v", accountID, err)
	}
}

// balanceCacheKey carries the caller's tenant and outlet so a cached balance
// can only ever be served back inside the scope that was allowed to read it.
func balanceCacheKey(scope models.Scope, accountID uuid.UUID) string {
	return fmt.Sprintf("account_balance:%s:%s:%s", scope.TenantID, scope.OutletID, accountID)
}
