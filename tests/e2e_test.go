package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
	"github.com/vitos/crypto_trade_bot/internal/web"
	"go.uber.org/zap"
)

const testJWTSecret = "e2e-test-secret"

type stubScheduler struct{}

func (stubScheduler) Running() bool   { return true }
func (stubScheduler) ActiveJobs() int { return 1 }

// newAPIServer wires the HTTP layer over the scenario stack.
func newAPIServer(t *testing.T, h *Scenario) http.Handler {
	t.Helper()
	provider := &mockProvider{ex: h.Exchange}
	srv := web.NewServer(
		0,
		h.Store, h.Store,
		h.Coordinator,
		usecase.NewPortfolioService(provider, zap.NewNop()),
		stubScheduler{},
		h.Store,
		provider,
		testJWTSecret,
		zap.NewNop(),
	)
	return srv.Handler()
}

func bearerToken(t *testing.T) string {
	t.Helper()
	claims := web.UserClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, handler http.Handler, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func configPayload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     "u1",
		"exchange_id": "mock",
		"token":       "BTC",
		"symbol":      "BTCUSDT",
		"active":      true,
		"buy_dip":     map[string]interface{}{"enabled": true, "percent": 5},
		"take_profit_levels": []map[string]interface{}{
			{"percent": 5, "quantity_percent": 100, "enabled": true},
		},
		"stop_loss": map[string]interface{}{"enabled": true, "percent": 8},
	}
}

func TestAPI_ConfigLifecycle(t *testing.T) {
	h := NewScenario(t)
	api := newAPIServer(t, h)
	auth := bearerToken(t)

	// Mutations require a token.
	rec := doJSON(t, api, http.MethodPost, "/configs", "", configPayload())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, api, http.MethodPost, "/configs", auth, configPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.RuleSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "BTCUSDT", created.Symbol)

	// Listing is public.
	rec = doJSON(t, api, http.MethodGet, "/configs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []domain.RuleSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	// Replace keeps the identity.
	payload := configPayload()
	payload["stop_loss"] = map[string]interface{}{"enabled": true, "percent": 10}
	rec = doJSON(t, api, http.MethodPut, "/configs/BTCUSDT", auth, payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var replaced domain.RuleSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replaced))
	assert.Equal(t, created.ID, replaced.ID)
	assert.InDelta(t, 10, replaced.StopLoss.Percent, 1e-9)

	rec = doJSON(t, api, http.MethodDelete, "/configs/BTCUSDT", auth, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, api, http.MethodGet, "/configs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestAPI_DuplicateConfigConflict(t *testing.T) {
	h := NewScenario(t)
	api := newAPIServer(t, h)
	auth := bearerToken(t)

	rec := doJSON(t, api, http.MethodPost, "/configs", auth, configPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Same (user, exchange, token) triple: the unique key rejects it.
	rec = doJSON(t, api, http.MethodPost, "/configs", auth, configPayload())
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CONFIG_EXISTS", resp["code"])
}

func TestAPI_ValidationFailureReportsField(t *testing.T) {
	h := NewScenario(t)
	api := newAPIServer(t, h)

	payload := configPayload()
	payload["take_profit_levels"] = []map[string]interface{}{
		{"percent": 5, "quantity_percent": 90, "enabled": true}, // sum != 100
	}
	rec := doJSON(t, api, http.MethodPost, "/configs", bearerToken(t), payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_FAILED", resp["code"])
	assert.Equal(t, "take_profit_levels", resp["field"])
}

func TestAPI_LegacyPayloadNormalized(t *testing.T) {
	h := NewScenario(t)
	api := newAPIServer(t, h)

	payload := map[string]interface{}{
		"user_id":      "u1",
		"exchange_id":  "mock",
		"token":        "ETH",
		"symbol":       "ETHUSDT",
		"active":       true,
		"buy_percent":  5,
		"sell_percent": 10,
	}
	rec := doJSON(t, api, http.MethodPost, "/configs", bearerToken(t), payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.RuleSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.TakeProfitLevels, 1)
	assert.InDelta(t, 10, created.TakeProfitLevels[0].Percent, 1e-9)
	assert.InDelta(t, 100, created.TakeProfitLevels[0].QuantityPercent, 1e-9)
	assert.True(t, created.BuyDip.Enabled)
}

func TestAPI_ManualOrderCycleAndLogs(t *testing.T) {
	h := NewScenario(t)
	h.AddStrategy(dipLadderStrategy())
	h.Exchange.SetPrice("BTCUSDT", 100)
	api := newAPIServer(t, h)
	auth := bearerToken(t)

	rec := doJSON(t, api, http.MethodPost, "/order", auth,
		map[string]string{"pair": "BTCUSDT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status  string                `json:"status"`
		Results []usecase.CycleResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, domain.ActionHold, resp.Results[0].Decision.Action)

	// A symbol the exchange cannot price still returns 200, but the batch
	// status reports the failure.
	eth := dipLadderStrategy()
	eth.ID = "scenario-eth"
	eth.Token = "ETH"
	eth.Symbol = "ETHUSDT"
	h.AddStrategy(eth)
	rec = doJSON(t, api, http.MethodPost, "/order", auth,
		map[string]string{"pair": "ETHUSDT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp.Status = ""
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)

	// Unknown pair is a 404, not a failed cycle.
	rec = doJSON(t, api, http.MethodPost, "/order", auth,
		map[string]string{"pair": "DOGEUSDT"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The cycle left its audit record.
	rec = doJSON(t, api, http.MethodGet, "/logs?pair=BTCUSDT", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []domain.ExecutionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, domain.ExecutorUser, records[0].Executor)

	rec = doJSON(t, api, http.MethodGet, "/logs?limit=oops", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	h := NewScenario(t)
	api := newAPIServer(t, h)

	rec := doJSON(t, api, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, true, payload["scheduler_running"])
	assert.Equal(t, "ok", payload["database"])
}
