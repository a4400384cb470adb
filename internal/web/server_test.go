package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/datum"
	"github.com/fluxvault/fluxd/internal/flux"
	"github.com/fluxvault/fluxd/internal/oracle"
	"github.com/fluxvault/fluxd/internal/types"
	"github.com/fluxvault/fluxd/internal/vault"
	"github.com/fluxvault/fluxd/internal/venue"
)

type stubExecutor struct {
	lastPlan types.RebalancePlan
	err      error
}

func (s *stubExecutor) ExecutePlan(plan types.RebalancePlan) (types.RebalanceSnapshot, error) {
	s.lastPlan = plan
	return types.RebalanceSnapshot{BatchID: "stub-batch", Success: s.err == nil}, s.err
}

func newTestServer(t *testing.T, executor PlanExecutor) *Server {
	t.Helper()

	token0 := common.HexToAddress("0x0000000000000000000000000000000000000C01")
	token1 := common.HexToAddress("0x0000000000000000000000000000000000000C02")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	feed := oracle.NewFixed(sdkmath.NewInt(378_787_870_000_000), 18, now)
	gate, err := datum.New(datum.Config{Source: feed, Heartbeat: time.Hour, Now: func() time.Time { return now }})
	require.NoError(t, err)

	mem := vault.NewMemory(18, common.Address{})
	book := &vault.PairBook{Vault: mem, Token0: token0, Token1: token1}
	sim, err := venue.NewSimulator(book, sdkmath.LegacyOneDec(), 0)
	require.NoError(t, err)

	manager, err := flux.NewManager(flux.Config{
		Authorizer:      auth.Open{},
		Vault:           mem,
		Venue:           sim,
		Datum:           gate,
		Token0:          token0,
		Token1:          token1,
		Decimals0:       6,
		Decimals1:       18,
		BaseIn0:         true,
		DatumLowerBound: 9_500,
		DatumUpperBound: 10_500,
		DeviationMin:    9_000,
		DeviationMax:    11_000,
		PerformanceFee:  1_000,
		ReviewFrequency: time.Hour,
		Metric:          types.MetricLiquidity,
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)

	return NewServer(":0", manager, executor)
}

func TestHandleStatus(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := httptest.NewRecorder()
	server.router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/status", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, false, body["paused"])
	assert.Equal(t, "liquidity", body["metric"])
	assert.Equal(t, "0", body["pending_fee"])
}

func TestHandleHealthWithoutDatabase(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := httptest.NewRecorder()
	server.router.ServeHTTP(recorder, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["database"])
}

func TestHandlePositionsEmpty(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := httptest.NewRecorder()
	server.router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/positions", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Positions []types.TrackedPosition `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Empty(t, body.Positions)
}

func TestHandleRebalance(t *testing.T) {
	plan := types.RebalancePlan{
		Description:  "test batch",
		ExchangeRate: sdkmath.NewInt(378_787_870_000_000),
		RateDecimals: 18,
		Actions:      []types.Action{{Type: types.ActionCollectFees, PositionID: 1}},
	}
	encoded, err := json.Marshal(plan)
	require.NoError(t, err)

	t.Run("executes plan", func(t *testing.T) {
		executor := &stubExecutor{}
		server := newTestServer(t, executor)

		recorder := httptest.NewRecorder()
		server.router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/rebalance", bytes.NewReader(encoded)))
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, plan.Description, executor.lastPlan.Description)
		assert.Len(t, executor.lastPlan.Actions, 1)
	})

	t.Run("reports execution failure with snapshot", func(t *testing.T) {
		executor := &stubExecutor{err: errors.New("deviation exceeded")}
		server := newTestServer(t, executor)

		recorder := httptest.NewRecorder()
		server.router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/rebalance", bytes.NewReader(encoded)))
		require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
		assert.Contains(t, body["error"], "deviation exceeded")
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		server := newTestServer(t, &stubExecutor{})

		recorder := httptest.NewRecorder()
		server.router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/rebalance",
			bytes.NewReader([]byte(`{"unexpected": true}`))))
		require.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("rejects empty action list", func(t *testing.T) {
		server := newTestServer(t, &stubExecutor{})
		empty, err := json.Marshal(types.RebalancePlan{ExchangeRate: sdkmath.NewInt(1), Actions: nil})
		require.NoError(t, err)

		recorder := httptest.NewRecorder()
		server.router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/rebalance", bytes.NewReader(empty)))
		require.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("unavailable without executor", func(t *testing.T) {
		server := newTestServer(t, nil)

		recorder := httptest.NewRecorder()
		server.router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/rebalance", bytes.NewReader(encoded)))
		require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	})
}
