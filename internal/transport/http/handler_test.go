package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/security"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/richardliu001/wallet-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type apiEnv struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
	tokens *security.TokenManager
}

func newAPIEnv(t *testing.T) *apiEnv {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	log := logger.NewNop()
	r := repo.NewRepository(db, nil, nil, log)
	ledger := service.NewLedgerService(r, nil, log)
	h := NewHandler(ledger,
		service.NewSettlementService(r, ledger, nil, log),
		service.NewTransferService(r, ledger, nil, log),
		log)
	tokens := security.NewTokenManager("test-secret", "wallet-ledger")
	router := NewRouter(h, tokens, config.RateLimitConfig{RPS: 1000, Burst: 1000}, log)
	return &apiEnv{t: t, db: db, router: router, tokens: tokens}
}

func (e *apiEnv) do(method, path string, userID uint64, staff bool, body interface{}) (int, map[string]interface{}) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		tok, err := e.tokens.Generate(userID, staff)
		require.NoError(e.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newAPIEnv(t)

	code, _ := env.do(http.MethodGet, "/v1/wallets/me", 0, false, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(http.MethodGet, "/healthz", 0, false, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAPI_DepositIsStaffOnly(t *testing.T) {
	env := newAPIEnv(t)

	code, _ := env.do(http.MethodPost, "/v1/wallets/1/deposit", 1, false, gin.H{"amount": "100"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := env.do(http.MethodPost, "/v1/wallets/1/deposit", 99, true, gin.H{"amount": "100"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "deposit", body["kind"])

	code, body = env.do(http.MethodGet, "/v1/wallets/me", 1, false, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "100", body["balance"])
}

func TestAPI_DepositValidatesAmount(t *testing.T) {
	env := newAPIEnv(t)

	code, _ := env.do(http.MethodPost, "/v1/wallets/1/deposit", 99, true, gin.H{"amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(http.MethodPost, "/v1/wallets/1/deposit", 99, true, gin.H{"amount": "abc"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_WalletPayment(t *testing.T) {
	env := newAPIEnv(t)
	resID := testutil.SeedReservation(t, env.db, 1, "60")
	parcelID := testutil.SeedParcel(t, env.db, 1, "80")

	code, _ := env.do(http.MethodPost, "/v1/wallets/1/deposit", 99, true, gin.H{"amount": "100"})
	require.Equal(t, http.StatusOK, code)

	code, body := env.do(http.MethodPost, "/v1/payments", 1, false,
		gin.H{"target_type": "reservation", "target_id": resID, "method": "wallet"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "validated", body["status"])

	code, body = env.do(http.MethodPost, "/v1/payments", 1, false,
		gin.H{"target_type": "parcel", "target_id": parcelID, "method": "wallet"})
	require.Equal(t, http.StatusPaymentRequired, code)
	payment, ok := body["payment"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rejected", payment["status"])

	code, _ = env.do(http.MethodPost, fmt.Sprintf("/v1/payments/%v/settle", payment["id"]), 1, false, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(http.MethodGet, fmt.Sprintf("/v1/payments/%v", payment["id"]), 2, false, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAPI_PayForSomeoneElsesTarget(t *testing.T) {
	env := newAPIEnv(t)
	resID := testutil.SeedReservation(t, env.db, 1, "60")

	code, _ := env.do(http.MethodPost, "/v1/payments", 2, false,
		gin.H{"target_type": "reservation", "target_id": resID, "method": "wallet"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = env.do(http.MethodPost, "/v1/payments", 1, false,
		gin.H{"target_type": "reservation", "target_id": 404, "method": "wallet"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_TransferWorkflow(t *testing.T) {
	env := newAPIEnv(t)
	code, _ := env.do(http.MethodPost, "/v1/wallets/1/deposit", 99, true, gin.H{"amount": "50"})
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(http.MethodPost, "/v1/transfers", 1, false, gin.H{"receiver_id": 1, "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := env.do(http.MethodPost, "/v1/transfers", 1, false,
		gin.H{"receiver_id": 2, "amount": "30", "reason": "rent"})
	require.Equal(t, http.StatusCreated, code)
	id := body["id"]

	code, _ = env.do(http.MethodPost, fmt.Sprintf("/v1/transfers/%v/accept", id), 1, false, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = env.do(http.MethodPost, fmt.Sprintf("/v1/transfers/%v/accept", id), 2, false, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", body["status"])

	code, _ = env.do(http.MethodPost, fmt.Sprintf("/v1/transfers/%v/cancel", id), 1, false, nil)
	assert.Equal(t, http.StatusConflict, code)

	_, body = env.do(http.MethodGet, "/v1/wallets/me", 2, false, nil)
	assert.Equal(t, "30", body["balance"])
}

func TestErrorStatus(t *testing.T) {
	cases := map[error]int{
		service.ErrInvalidAmount:     http.StatusBadRequest,
		service.ErrSelfTransfer:      http.StatusBadRequest,
		service.ErrInsufficientFunds: http.StatusPaymentRequired,
		service.ErrForbidden:         http.StatusForbidden,
		service.ErrNotFound:          http.StatusNotFound,
		service.ErrAlreadySettled:    http.StatusConflict,
		fmt.Errorf("wrapped: %w", service.ErrInvalidState): http.StatusConflict,
		fmt.Errorf("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, errorStatus(err), err.Error())
	}
}

func TestQueryLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]int{
		"":                 0,
		"?limit=abc":       0,
		"?limit=5":         5,
		"?limit=100":       maxPageLimit,
		"?limit=100000000": maxPageLimit,
	}
	for query, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/v1/wallets/me/history"+query, nil)
		assert.Equal(t, want, queryLimit(c), query)
	}
}

func TestAPI_HistoryLimitIsCapped(t *testing.T) {
	env := newAPIEnv(t)
	for i := 0; i < maxPageLimit+5; i++ {
		code, _ := env.do(http.MethodPost, "/v1/wallets/1/deposit", 99, true, gin.H{"amount": "1"})
		require.Equal(t, http.StatusOK, code)
	}

	tok, err := env.tokens.Generate(1, false)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/wallets/me/history?limit=100000000", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var txs []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	assert.Len(t, txs, maxPageLimit)
}
