package web_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonfarm/farmd/internal/chef"
	"github.com/dragonfarm/farmd/internal/nest"
	"github.com/dragonfarm/farmd/internal/state"
	"github.com/dragonfarm/farmd/internal/token"
	"github.com/dragonfarm/farmd/internal/types"
	"github.com/dragonfarm/farmd/internal/vault"
	"github.com/dragonfarm/farmd/internal/web"
)

const (
	rewardAsset = types.AssetID("DGN")
	stakeAsset  = types.AssetID("LP-A")
	alice       = types.Account("alice")
)

type fixture struct {
	clock   *types.ManualClock
	assets  *token.MemLedger
	engine  *chef.Chef
	server  *web.WebServer
	journal *state.MemJournal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &types.ManualClock{At: 0},
		assets:  token.NewMemLedger(),
		journal: state.NewMemJournal(64),
	}

	feeNest, err := nest.New(nest.Config{
		Account: "nest:escrow",
		Clock:   f.clock,
		Assets:  f.assets,
		NFTs:    token.NewMemCollection(),
		Events:  f.journal,
	})
	require.NoError(t, err)

	engine, err := chef.New(chef.Config{
		RewardAsset:      rewardAsset,
		EmissionRate:     sdkmath.NewInt(1000),
		RewardPeriod:     1,
		DevFeeBps:        250,
		MaxDepositFeeBps: 1000,
		Account:          "chef:escrow",
		DevAccount:       "dev",
		Clock:            f.clock,
		Assets:           f.assets,
		Fees:             feeNest,
		Events:           f.journal,
	})
	require.NoError(t, err)
	f.engine = engine

	vaults, err := vault.New(vault.Config{Clock: f.clock, Assets: f.assets, Events: f.journal})
	require.NoError(t, err)

	f.server = web.NewWebServer("0", engine, feeNest, vaults, f.journal, 6)
	return f
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, body := f.get(t, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["status"])
	engineInfo, ok := body["engine"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1000", engineInfo["emission_rate"])
}

func TestPoolEndpoints(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.AddPool(5000, stakeAsset, 100, true)
	require.NoError(t, err)
	require.NoError(t, f.assets.Mint(stakeAsset, alice, sdkmath.NewInt(10_000)))
	require.NoError(t, f.engine.Deposit(id, alice, sdkmath.NewInt(10_000)))

	rec, body := f.get(t, "/api/pools")
	assert.Equal(t, http.StatusOK, rec.Code)
	pools, ok := body["pools"].([]interface{})
	require.True(t, ok)
	require.Len(t, pools, 1)

	rec, body = f.get(t, "/api/pools/0")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(stakeAsset), body["asset"])
	assert.Equal(t, "9900", body["total_staked"], "net of the 1% deposit fee")

	rec, body = f.get(t, "/api/pools/0/stakes/alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9900", body["amount"])

	f.clock.Advance(2)
	rec, body = f.get(t, "/api/pools/0/pending/alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	// 2 x 975 reward spread over 9900 staked units floors to 1949.
	assert.Equal(t, "1949", body["pending"])
	assert.Equal(t, "0.001949000000000000", body["pending_display"])

	rec, body = f.get(t, "/api/pools/0/fees")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", body["pending_fee"])
}

func TestLookupErrors(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/api/pools/42")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, true, body["error"])

	rec, _ = f.get(t, "/api/pools/not-a-number")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.get(t, "/api/nest/stakes/9")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.get(t, "/api/vaults/0/shares/alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.AddPool(100, stakeAsset, 0, true)
	require.NoError(t, err)

	rec, body := f.get(t, "/api/events?limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	events, ok := body["events"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, events)
	newest, ok := events[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(types.EventPoolAdded), newest["kind"])
	// The first pool's id is 0 and must still serialize.
	assert.Equal(t, float64(0), newest["pool"])
}
