package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/middleware"
	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/models"
)

func testScope() models.Scope {
	return models.Scope{
		TenantID: uuid.New(),
		OutletID: uuid.New(),
		UserID:   7,
	}
}

func requestWithScope(method, target string, body []byte, scope models.Scope) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(middleware.WithScope(req.Context(), scope))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func accountRows(accountID uuid.UUID, name, balance string, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "opening_balance", "current_balance", "is_default", "is_active", "version"}).
		AddRow(accountID.String(), name, "0.00", balance, false, true, version)
}

func TestAccountService_lockAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db, nil)
	scope := testScope()
	accountID := uuid.New()

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, name, opening_balance, current_balance, is_default, is_active, version FROM accounts WHERE id = \\$1 AND tenant_id = \\$2 AND outlet_id = \\$3 FOR UPDATE").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnRows(accountRows(accountID, "Till Cash", "1500.00", 3))

		account, err := service.lockAccount(tx, scope, accountID)
		assert.NoError(t, err)
		assert.Equal(t, accountID, account.ID)
		assert.Equal(t, "1500.00", account.CurrentBalance.String())
		assert.Equal(t, 3, account.Version)
		assert.Equal(t, scope.TenantID, account.TenantID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, name, opening_balance, current_balance, is_default, is_active, version FROM accounts").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "opening_balance", "current_balance", "is_default", "is_active", "version"}))

		_, err := service.lockAccount(tx, scope, accountID)
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_creditTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db, nil)
	accountID := uuid.New()

	mock.ExpectBegin()
	tx, _ := db.Begin()

	account := &models.Account{
		ID:             accountID,
		Name:           "Till Cash",
		CurrentBalance: mustMoney(t, "1000.00"),
		Version:        1,
	}

	mock.ExpectExec("UPDATE accounts SET current_balance = \\$1, version = version \\+ 1, updated_at = NOW\\(\\) WHERE id = \\$2 AND version = \\$3").
		WithArgs("1250.50", accountID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = service.creditTx(tx, account, mustMoney(t, "250.50"))
	assert.NoError(t, err)
	assert.Equal(t, "1250.50", account.CurrentBalance.String())
	assert.Equal(t, 2, account.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_debitTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db, nil)
	accountID := uuid.New()

	t.Run("debit to exactly zero succeeds", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		account := &models.Account{
			ID:             accountID,
			Name:           "Till Cash",
			CurrentBalance: mustMoney(t, "300.00"),
			Version:        5,
		}

		mock.ExpectExec("UPDATE accounts SET current_balance = \\$1, version = version \\+ 1").
			WithArgs("0.00", accountID, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.debitTx(tx, account, mustMoney(t, "300.00"))
		assert.NoError(t, err)
		assert.True(t, account.CurrentBalance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overdraw is rejected without touching the row", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		account := &models.Account{
			ID:             accountID,
			Name:           "Till Cash",
			CurrentBalance: mustMoney(t, "300.00"),
			Version:        5,
		}

		err := service.debitTx(tx, account, mustMoney(t, "300.01"))
		var insufficient *models.InsufficientBalanceError
		assert.ErrorAs(t, err, &insufficient)
		assert.Equal(t, "Till Cash", insufficient.AccountName)
		assert.Equal(t, "300.00", insufficient.Available.String())
		assert.Equal(t, "300.01", insufficient.Requested.String())
		assert.Equal(t, "300.00", account.CurrentBalance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost version race surfaces as concurrent modification", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		account := &models.Account{
			ID:             accountID,
			Name:           "Till Cash",
			CurrentBalance: mustMoney(t, "300.00"),
			Version:        5,
		}

		mock.ExpectExec("UPDATE accounts SET current_balance = \\$1, version = version \\+ 1").
			WithArgs("100.00", accountID, 5).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.debitTx(tx, account, mustMoney(t, "200.00"))
		assert.ErrorIs(t, err, models.ErrConcurrentModification)
		assert.Equal(t, "300.00", account.CurrentBalance.String())
		assert.Equal(t, 5, account.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db, nil)
	scope := testScope()

	t.Run("successful creation", func(t *testing.T) {
		body, _ := json.Marshal(map[string]interface{}{
			"name":           "Till Cash",
			"openingBalance": "1000.00",
		})

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), scope.TenantID, scope.OutletID, "Till Cash",
				"1000.00", "1000.00", false, true, 1, scope.UserID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := requestWithScope(http.MethodPost, "/accounts", body, scope)
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var created models.Account
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		assert.Equal(t, "Till Cash", created.Name)
		assert.Equal(t, "1000.00", created.CurrentBalance.String())
		assert.True(t, created.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("default flag clears previous default first", func(t *testing.T) {
		body, _ := json.Marshal(map[string]interface{}{
			"name":      "Main Bank",
			"isDefault": true,
		})

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts SET is_default = false").
			WithArgs(scope.TenantID, scope.OutletID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), scope.TenantID, scope.OutletID, "Main Bank",
				"0.00", "0.00", true, true, 1, scope.UserID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := requestWithScope(http.MethodPost, "/accounts", body, scope)
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative opening balance is rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]interface{}{
			"name":           "Till Cash",
			"openingBalance": "-5.00",
		})

		req := requestWithScope(http.MethodPost, "/accounts", body, scope)
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		body := []byte(`{"name": "Till Cash", "currentBalance": "9999.00"}`)

		req := requestWithScope(http.MethodPost, "/accounts", body, scope)
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountService_GetAccountBalance(t *testing.T) {
	scope := testScope()
	accountID := uuid.New()
	cacheKey := fmt.Sprintf("account_balance:%s:%s:%s", scope.TenantID, scope.OutletID, accountID)

	t.Run("cache miss falls through to the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewAccountService(db, redisClient)

		redisMock.ExpectGet(cacheKey).RedisNil()
		mock.ExpectQuery("SELECT current_balance FROM accounts").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnRows(sqlmock.NewRows([]string{"current_balance"}).AddRow("742.10"))
		redisMock.ExpectSet(cacheKey, "742.10", balanceCacheTTL).SetVal("OK")

		req := requestWithScope(http.MethodGet, "/accounts/"+accountID.String()+"/balance", nil, scope)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.GetAccountBalance(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "742.10", resp["availableBalance"])
		assert.Equal(t, "local", resp["source"])
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewAccountService(db, redisClient)

		redisMock.ExpectGet(cacheKey).SetVal("742.10")

		req := requestWithScope(http.MethodGet, "/accounts/"+accountID.String()+"/balance", nil, scope)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.GetAccountBalance(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "cache", resp["source"])
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cached balance is never served to another tenant", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewAccountService(db, redisClient)

		// A balance cached for the owning scope lives under that scope's key,
		// so a request from another tenant misses the cache and hits the
		// database, where the ownership filter returns nothing.
		foreign := testScope()
		foreignKey := fmt.Sprintf("account_balance:%s:%s:%s", foreign.TenantID, foreign.OutletID, accountID)
		redisMock.ExpectGet(foreignKey).RedisNil()
		mock.ExpectQuery("SELECT current_balance FROM accounts").
			WithArgs(accountID, foreign.TenantID, foreign.OutletID).
			WillReturnRows(sqlmock.NewRows([]string{"current_balance"}))

		req := requestWithScope(http.MethodGet, "/accounts/"+accountID.String()+"/balance", nil, foreign)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.GetAccountBalance(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("unknown account returns 404", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewAccountService(db, nil)

		mock.ExpectQuery("SELECT current_balance FROM accounts").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnRows(sqlmock.NewRows([]string{"current_balance"}))

		req := requestWithScope(http.MethodGet, "/accounts/"+accountID.String()+"/balance", nil, scope)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.GetAccountBalance(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_SetDefaultAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db, nil)
	scope := testScope()
	accountID := uuid.New()

	t.Run("moves the flag atomically", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, name, opening_balance, current_balance, is_default, is_active, version FROM accounts").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnRows(accountRows(accountID, "Main Bank", "500.00", 1))
		mock.ExpectExec("UPDATE accounts SET is_default = false").
			WithArgs(scope.TenantID, scope.OutletID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts SET is_default = true").
			WithArgs(accountID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := requestWithScope(http.MethodPut, "/accounts/"+accountID.String()+"/default", nil, scope)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.SetDefaultAccount(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive account cannot become default", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, name, opening_balance, current_balance, is_default, is_active, version FROM accounts").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "opening_balance", "current_balance", "is_default", "is_active", "version"}).
				AddRow(accountID.String(), "Old Drawer", "0.00", "0.00", false, false, 2))
		mock.ExpectRollback()

		req := requestWithScope(http.MethodPut, "/accounts/"+accountID.String()+"/default", nil, scope)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.SetDefaultAccount(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_DeactivateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db, nil)
	scope := testScope()
	accountID := uuid.New()

	t.Run("deactivates and drops the default flag", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET is_active = false, is_default = false").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := requestWithScope(http.MethodPut, "/accounts/"+accountID.String()+"/deactivate", nil, scope)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.DeactivateAccount(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account returns 404", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET is_active = false, is_default = false").
			WithArgs(accountID, scope.TenantID, scope.OutletID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := requestWithScope(http.MethodPut, "/accounts/"+accountID.String()+"/deactivate", nil, scope)
		req = withURLParam(req, "accountId", accountID.String())
		w := httptest.NewRecorder()
		service.DeactivateAccount(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func mustMoney(t *testing.T, s string) models.Money {
	t.Helper()
	m, err := models.MoneyFromString(s)
	assert.NoError(t, err)
	return m
}
