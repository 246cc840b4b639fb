package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/teampool/internal/models"
	"github.com/punchamoorthee/teampool/internal/service"
	"github.com/punchamoorthee/teampool/internal/store"
)

const testSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	store  *store.MemoryStore
	auth   *Authenticator
}

type envOpts struct {
	rps        float64
	burst      int
	devFunding bool
}

func newTestEnv(t *testing.T, opts ...envOpts) *testEnv {
	t.Helper()
	o := envOpts{rps: 1000, burst: 1000}
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.rps == 0 {
		o.rps, o.burst = 1000, 1000
	}

	log, _ := test.NewNullLogger()
	st := store.NewMemoryStore()
	svc := service.NewPoolService(st, nil, service.DefaultPolicy(), log)

	idem, err := NewIdempotencyCache(100)
	require.NoError(t, err)
	limiter, err := NewRateLimiter(o.rps, o.burst, 100)
	require.NoError(t, err)
	auth, err := NewAuthenticator(testSecret)
	require.NoError(t, err)

	h := NewHandler(svc, idem, NewAmounts(2), log)
	if o.devFunding {
		h = h.WithDevFunding()
	}
	srv := httptest.NewServer(NewRouter(h, auth, limiter))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: st, auth: auth}
}

func (e *testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := e.auth.Issue(subject, time.Hour)
	require.NoError(t, err)
	return tok
}

type call struct {
	method  string
	path    string
	caller  string
	body    string
	headers map[string]string
}

func (e *testEnv) do(t *testing.T, c call) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequest(c.method, e.server.URL+c.path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.caller != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, c.caller))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (e *testEnv) createPool(t *testing.T, caller, body string) models.PoolResponse {
	t.Helper()
	resp, raw := e.do(t, call{method: http.MethodPost, path: "/api/v1/pools", caller: caller, body: body})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var out models.PoolResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func errorBody(t *testing.T, raw []byte) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	resp, raw = env.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "teampool_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, call{method: http.MethodPost, path: "/api/v1/pools", body: `{"max_members":2,"price":"1"}`})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, call{
		method:  http.MethodGet,
		path:    "/api/v1/pools/x",
		headers: map[string]string{"Authorization": "Bearer not-a-jwt"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := NewAuthenticator("other-secret")
	require.NoError(t, err)
	forged, err := other.Issue("alice", time.Hour)
	require.NoError(t, err)
	resp, _ = env.do(t, call{
		method:  http.MethodGet,
		path:    "/api/v1/pools/x",
		headers: map[string]string{"Authorization": "Bearer " + forged},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreatePool_HidesCode(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, call{
		method: http.MethodPost,
		path:   "/api/v1/pools",
		caller: "alice",
		body:   `{"max_members":2,"price":"0.10","privacy":"Private","pool_code":"ABCD"}`,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	assert.NotContains(t, string(raw), "ABCD")
	assert.NotContains(t, string(raw), "pool_code")

	var out models.PoolResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "/api/v1/pools/"+out.Pool.ID, resp.Header.Get("Location"))
	assert.Equal(t, "private", out.Pool.Privacy)
	assert.Equal(t, "open", out.Pool.Status)
	assert.Equal(t, "0.05", out.Pool.PricePerMember.String())
	assert.Equal(t, "alice", out.Vault.Authority)

	resp, raw = env.do(t, call{method: http.MethodGet, path: "/api/v1/pools/" + out.Pool.ID, caller: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(raw), "ABCD")
}

func TestCreatePool_RequestErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"malformed json", `{"max_members":`, http.StatusBadRequest, ""},
		{"zero members", `{"max_members":0,"price":"1"}`, http.StatusUnprocessableEntity, "validation"},
		{"private without code", `{"max_members":2,"price":"1","privacy":"private"}`, http.StatusUnprocessableEntity, "validation"},
		{"too precise", `{"max_members":2,"price":"0.001"}`, http.StatusUnprocessableEntity, ""},
		{"negative price", `{"max_members":2,"price":"-1"}`, http.StatusUnprocessableEntity, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := env.do(t, call{method: http.MethodPost, path: "/api/v1/pools", caller: "alice", body: tt.body})
			assert.Equal(t, tt.code, resp.StatusCode, string(raw))
			assert.Equal(t, tt.kind, errorBody(t, raw)["kind"])
		})
	}
}

func TestJoinPool_Flow(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPool(t, "alice", `{"max_members":2,"price":"0.10","privacy":"private","pool_code":"ABCD"}`)
	poolPath := "/api/v1/pools/" + created.Pool.ID
	env.store.Fund("bob", 100)
	env.store.Fund("carol", 100)
	env.store.Fund("dave", 100)

	resp, raw := env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "bob", body: `{"pool_code":"WXYZ"}`})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "validation", errorBody(t, raw)["kind"])

	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "bob", body: `{"pool_code":"ABCD"}`})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var joined models.PoolResponse
	require.NoError(t, json.Unmarshal(raw, &joined))
	assert.Equal(t, "0.05", joined.Vault.Amount.String())
	assert.Equal(t, []string{"bob"}, joined.Pool.Members)

	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "bob", body: `{"pool_code":"ABCD"}`})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", errorBody(t, raw)["kind"])

	resp, _ = env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "carol", body: `{"pool_code":"ABCD"}`})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "dave", body: `{"pool_code":"ABCD"}`})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", errorBody(t, raw)["kind"])

	resp, raw = env.do(t, call{method: http.MethodGet, path: poolPath + "/vault", caller: "dave"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vault models.Vault
	require.NoError(t, json.Unmarshal(raw, &vault))
	assert.Equal(t, "0.1", vault.Amount.String())
}

func TestJoinPool_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPool(t, "alice", `{"max_members":2,"price":"10"}`)
	poolPath := "/api/v1/pools/" + created.Pool.ID

	resp, raw := env.do(t, call{method: http.MethodPost, path: "/api/v1/pools/missing/join", caller: "bob"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorBody(t, raw)["kind"])

	env.store.Fund("bob", 100)
	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "bob"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := errorBody(t, raw)
	assert.Equal(t, "resource", body["kind"])
	assert.Equal(t, "Insufficient funds", body["error"])

	resp, _ = env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "bob", body: `{not json`})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCloseAndPayout(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPool(t, "alice", `{"max_members":2,"price":"1"}`)
	poolPath := "/api/v1/pools/" + created.Pool.ID
	for _, m := range []string{"bob", "carol"} {
		env.store.Fund(m, 100)
		resp, raw := env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: m})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	}

	resp, raw := env.do(t, call{method: http.MethodPost, path: poolPath + "/close", caller: "bob"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authorization", errorBody(t, raw)["kind"])

	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/payout", caller: "bob", body: `{"amount":"0.50"}`})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/close", caller: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var closed models.Pool
	require.NoError(t, json.Unmarshal(raw, &closed))
	assert.Equal(t, "closed", closed.Status)

	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/payout", caller: "alice", body: `{"amount":"0.60"}`})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var paid models.PayoutResponse
	require.NoError(t, json.Unmarshal(raw, &paid))
	assert.Equal(t, "0.6", paid.Amount.String())
	assert.Equal(t, "0.4", paid.Vault.Amount.String())
	assert.Equal(t, "0.6", paid.Vault.PaidOut.String())

	resp, raw = env.do(t, call{method: http.MethodPost, path: poolPath + "/payout", caller: "alice", body: `{"amount":"5"}`})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "resource", errorBody(t, raw)["kind"])

	resp, raw = env.do(t, call{method: http.MethodGet, path: "/api/v1/accounts/alice", caller: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acc models.Account
	require.NoError(t, json.Unmarshal(raw, &acc))
	assert.Equal(t, "0.6", acc.Balance.String())
}

func TestAccounts(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, call{method: http.MethodPost, path: "/api/v1/accounts", caller: "erin"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var acc models.Account
	require.NoError(t, json.Unmarshal(raw, &acc))
	assert.Equal(t, "erin", acc.ID)
	assert.True(t, acc.Balance.IsZero())

	resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/v1/accounts/erin", caller: "frank"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/v1/accounts/frank", caller: "frank"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListPools(t *testing.T) {
	env := newTestEnv(t)
	env.createPool(t, "alice", `{"max_members":2,"price":"1"}`)
	env.createPool(t, "alice", `{"max_members":3,"price":"2"}`)

	resp, raw := env.do(t, call{method: http.MethodGet, path: "/api/v1/creators/alice/pools", caller: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pools []models.Pool
	require.NoError(t, json.Unmarshal(raw, &pools))
	assert.Len(t, pools, 2)

	resp, raw = env.do(t, call{method: http.MethodGet, path: "/api/v1/creators/nobody/pools", caller: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPool(t, "alice", `{"max_members":4,"price":"1"}`)
	joinPath := "/api/v1/pools/" + created.Pool.ID + "/join"
	env.store.Fund("bob", 100)

	first, firstBody := env.do(t, call{
		method: http.MethodPost, path: joinPath, caller: "bob", body: `{}`,
		headers: map[string]string{"Idempotency-Key": "join-1"},
	})
	require.Equal(t, http.StatusOK, first.StatusCode, string(firstBody))

	second, secondBody := env.do(t, call{
		method: http.MethodPost, path: joinPath, caller: "bob", body: `{}`,
		headers: map[string]string{"Idempotency-Key": "join-1"},
	})
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, bytes.TrimSpace(firstBody), bytes.TrimSpace(secondBody))

	acc, err := env.store.GetAccount(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(75), acc.Balance, "replay must not charge twice")

	mismatch, _ := env.do(t, call{
		method: http.MethodPost, path: joinPath, caller: "bob", body: `{"pool_code":"x"}`,
		headers: map[string]string{"Idempotency-Key": "join-1"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, mismatch.StatusCode)
}

func TestIdempotency_FailedRequestCanRetry(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPool(t, "alice", `{"max_members":4,"price":"1"}`)
	joinPath := "/api/v1/pools/" + created.Pool.ID + "/join"
	headers := map[string]string{"Idempotency-Key": "join-2"}

	resp, _ := env.do(t, call{method: http.MethodPost, path: joinPath, caller: "bob", body: `{}`, headers: headers})
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "bob has no account yet")

	env.store.Fund("bob", 100)
	resp, raw := env.do(t, call{method: http.MethodPost, path: joinPath, caller: "bob", body: `{}`, headers: headers})
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Empty(t, resp.Header.Get("Idempotent-Replayed"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, envOpts{rps: 0.001, burst: 1})

	resp, _ := env.do(t, call{method: http.MethodGet, path: "/api/v1/creators/alice/pools", caller: "bob"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.do(t, call{method: http.MethodGet, path: "/api/v1/creators/alice/pools", caller: "bob"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Rate limit exceeded", errorBody(t, raw)["error"])

	// Callers are limited independently.
	resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/v1/creators/alice/pools", caller: "carol"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinPool_VaultCallerForbidden(t *testing.T) {
	env := newTestEnv(t)
	a := env.createPool(t, "alice", `{"max_members":2,"price":"1"}`)
	b := env.createPool(t, "alice", `{"max_members":2,"price":"1"}`)
	env.store.Fund("bob", 100)

	resp, _ := env.do(t, call{method: http.MethodPost, path: "/api/v1/pools/" + a.Pool.ID + "/join", caller: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.do(t, call{method: http.MethodPost, path: "/api/v1/pools/" + b.Pool.ID + "/join", caller: a.Pool.VaultID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authorization", errorBody(t, raw)["kind"])

	resp, raw = env.do(t, call{method: http.MethodGet, path: "/api/v1/pools/" + a.Pool.ID + "/vault", caller: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vault models.Vault
	require.NoError(t, json.Unmarshal(raw, &vault))
	assert.Equal(t, "0.5", vault.Amount.String())
}

func TestLedgerReadRoutes(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPool(t, "alice", `{"max_members":2,"price":"1"}`)
	poolPath := "/api/v1/pools/" + created.Pool.ID
	env.store.Fund("bob", 100)

	resp, _ := env.do(t, call{method: http.MethodPost, path: poolPath + "/join", caller: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, call{method: http.MethodPost, path: poolPath + "/payout", caller: "alice", body: `{"amount":"0.2"}`})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.do(t, call{method: http.MethodGet, path: poolPath + "/transfers", caller: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var transfers []models.Transfer
	require.NoError(t, json.Unmarshal(raw, &transfers))
	require.Len(t, transfers, 2)
	assert.Equal(t, "contribution", transfers[0].Kind)
	assert.Equal(t, "0.5", transfers[0].Amount.String())
	assert.Equal(t, "payout", transfers[1].Kind)
	assert.Equal(t, "alice", transfers[1].ToAccountID)

	resp, raw = env.do(t, call{method: http.MethodGet, path: "/api/v1/accounts/bob/entries", caller: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var entries []models.LedgerEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "-0.5", entries[0].Delta.String())
	assert.Equal(t, transfers[0].ID, entries[0].TransferID)

	resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/v1/accounts/bob/entries", caller: "carol"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = env.do(t, call{method: http.MethodGet, path: "/api/v1/pools/missing/transfers", caller: "bob"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorBody(t, raw)["kind"])

	resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/v1/accounts/ghost/entries", caller: "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFundAccount(t *testing.T) {
	t.Run("not routed by default", func(t *testing.T) {
		env := newTestEnv(t)
		resp, _ := env.do(t, call{method: http.MethodPost, path: "/api/v1/accounts/bob/fund", caller: "bob", body: `{"amount":"1"}`})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("funds the caller and enables joining", func(t *testing.T) {
		env := newTestEnv(t, envOpts{devFunding: true})
		created := env.createPool(t, "alice", `{"max_members":2,"price":"3"}`)

		resp, raw := env.do(t, call{method: http.MethodPost, path: "/api/v1/accounts/bob/fund", caller: "bob", body: `{"amount":"1.50"}`})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		var acc models.Account
		require.NoError(t, json.Unmarshal(raw, &acc))
		assert.Equal(t, "1.5", acc.Balance.String())
		assert.Equal(t, "user", acc.Kind)

		resp, _ = env.do(t, call{method: http.MethodPost, path: "/api/v1/pools/" + created.Pool.ID + "/join", caller: "bob"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = env.do(t, call{method: http.MethodPost, path: "/api/v1/accounts/carol/fund", caller: "bob", body: `{"amount":"1"}`})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, raw = env.do(t, call{method: http.MethodPost, path: "/api/v1/accounts/bob/fund", caller: "bob", body: `{"amount":"0"}`})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "validation", errorBody(t, raw)["kind"])

		vaultID := created.Pool.VaultID
		resp, raw = env.do(t, call{method: http.MethodPost, path: "/api/v1/accounts/" + vaultID + "/fund", caller: vaultID, body: `{"amount":"1"}`})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "authorization", errorBody(t, raw)["kind"])
	})
}
