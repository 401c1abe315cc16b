package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/escrow"
	"github.com/amx/backend/internal/events"
	"github.com/amx/backend/internal/ledger"
	"github.com/amx/backend/internal/reputation"
	"github.com/amx/backend/internal/runtime"
	"github.com/amx/backend/internal/signals"
	"github.com/amx/backend/internal/staking"
)

type fixture struct {
	server    *httptest.Server
	deliverer *signals.Deliverer
}

func newFixture(t *testing.T, arbiterKeyHash []byte) *fixture {
	t.Helper()

	store := runtime.NewMemoryStore()
	clock := runtime.SystemClock{}
	bus := events.NewEventBus()

	aggregator := reputation.NewAggregator(reputation.NewMemoryStore(), clock, reputation.BoostMultiplicativeFinal, bus)
	stakingManager := staking.NewManager(store, clock, staking.DefaultLockupPeriod, nil, aggregator)
	deliverer := signals.NewDeliverer(aggregator, signals.NewMemoryDedupe(), 1, 1)
	t.Cleanup(deliverer.Shutdown)

	audit := ledger.NewLedger()
	escrowManager := escrow.NewManager(store, clock, escrow.DefaultOptions(), deliverer, stakingManager, aggregator, audit, bus, nil)

	api := NewAPIServer(stakingManager, aggregator, escrowManager, deliverer, bus, audit, arbiterKeyHash)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	return &fixture{server: srv, deliverer: deliverer}
}

func (f *fixture) post(t *testing.T, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()

	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStakingEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/api/stake/agent-a", map[string]interface{}{"amount": 5000}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5000), body["amount_staked"])

	resp, body = f.get(t, "/api/stake/agent-a")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Verified", body["tier"])
	assert.Equal(t, float64(5000), body["voting_power"])

	// Lockup blocks an immediate unstake.
	resp, body = f.post(t, "/api/stake/agent-a/unstake", map[string]interface{}{"amount": 1000}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "locked")

	resp, _ = f.post(t, "/api/stake/agent-a/consume", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Zero stake is a bad request.
	resp, _ = f.post(t, "/api/stake/agent-b", map[string]interface{}{"amount": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReputationEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	// Unknown identity reads as an unscored novice, not 404.
	resp, body := f.get(t, "/api/reputation/ghost")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["composite_score"])
	assert.Equal(t, "Novice", body["tier_label"])

	resp, body = f.post(t, "/api/reputation/agent-a/components", map[string]interface{}{
		"component": "payment_history",
		"value":     80,
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(240), body["composite_score"])

	resp, _ = f.post(t, "/api/reputation/agent-a/components", map[string]interface{}{
		"component": "charisma",
		"value":     80,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/api/reputation/agent-a/components", map[string]interface{}{
		"component": "payment_history",
		"value":     150,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/api/escrow", map[string]interface{}{
		"client":   "client-1",
		"provider": "provider-1",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	require.NotEmpty(t, id)

	resp, _ = f.post(t, "/api/escrow/"+id+"/fund", map[string]interface{}{"amount": 1000}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.post(t, "/api/escrow/"+id+"/approve", map[string]interface{}{"caller": "client-1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settlement := body["settlement"].(map[string]interface{})
	payouts := settlement["payouts"].([]interface{})
	require.Len(t, payouts, 1)
	payout := payouts[0].(map[string]interface{})
	assert.Equal(t, float64(1000), payout["amount"])
	assert.Equal(t, "provider-1", payout["recipient"])

	// Terminal re-entry conflicts.
	resp, _ = f.post(t, "/api/escrow/"+id+"/cancel", map[string]interface{}{"caller": "client-1"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown escrow is 404.
	resp, _ = f.get(t, "/api/escrow/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEscrowAuthorizationOverHTTP(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.post(t, "/api/escrow", map[string]interface{}{
		"client":   "client-1",
		"provider": "provider-1",
	}, nil)
	id := body["id"].(string)
	f.post(t, "/api/escrow/"+id+"/fund", map[string]interface{}{"amount": 500}, nil)

	// Provider cannot approve.
	resp, _ := f.post(t, "/api/escrow/"+id+"/approve", map[string]interface{}{"caller": "provider-1"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestResolveRequiresAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("arbiter-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, hash)

	_, body := f.post(t, "/api/escrow", map[string]interface{}{
		"client":   "client-1",
		"provider": "provider-1",
	}, nil)
	id := body["id"].(string)
	f.post(t, "/api/escrow/"+id+"/fund", map[string]interface{}{"amount": 1000}, nil)
	f.post(t, "/api/escrow/"+id+"/dispute", map[string]interface{}{"caller": "client-1", "reason": "bad work"}, nil)

	// Arbiter gets Pro tier so the tier gate passes once the key does.
	f.post(t, "/api/stake/arbiter-1", map[string]interface{}{"amount": 60000}, nil)

	resolveBody := map[string]interface{}{
		"arbiter":      "arbiter-1",
		"client_bps":   6000,
		"provider_bps": 4000,
		"notes":        "split decision",
	}

	resp, _ := f.post(t, "/api/escrow/"+id+"/resolve", resolveBody, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.post(t, "/api/escrow/"+id+"/resolve", resolveBody, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = f.post(t, "/api/escrow/"+id+"/resolve", resolveBody, map[string]string{"X-API-Key": "arbiter-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	account := body["account"].(map[string]interface{})
	assert.Equal(t, "Resolved", account["status"])
}

func TestSignalIngest(t *testing.T) {
	f := newFixture(t, nil)

	sig := core.Signal{
		Identity:       "provider-1",
		Type:           core.SignalJobCompleted,
		Magnitude:      1,
		SourceEscrowID: "esc-external",
	}

	resp, body := f.post(t, "/api/signals/ingest", sig, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", body["status"])

	// Replay is accepted and deduped.
	resp, _ = f.post(t, "/api/signals/ingest", sig, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.get(t, "/api/reputation/provider-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(200), body["composite_score"])

	// Garbage payloads bounce.
	resp, _ = f.post(t, "/api/signals/ingest", map[string]interface{}{"type": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditRoot(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/api/audit/root")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["entries"])

	_, created := f.post(t, "/api/escrow", map[string]interface{}{
		"client":   "client-1",
		"provider": "provider-1",
	}, nil)
	id := created["id"].(string)
	f.post(t, "/api/escrow/"+id+"/fund", map[string]interface{}{"amount": 100}, nil)
	f.post(t, "/api/escrow/"+id+"/approve", map[string]interface{}{"caller": "client-1"}, nil)

	resp, body = f.get(t, "/api/audit/root")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["entries"])
	assert.NotEmpty(t, body["root"])
}

func TestMetricsExposed(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
