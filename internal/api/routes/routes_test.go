package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/rail-service/rail_bridge/internal/domain/identifier"
	"github.com/rail-service/rail_bridge/internal/infrastructure/config"
	"github.com/rail-service/rail_bridge/internal/infrastructure/di"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret-with-enough-length-for-hs256"
	alice      = "0x00000000000000000000000000000000000000a1"
	bob        = "0x00000000000000000000000000000000000000b2"
	carol      = "0x00000000000000000000000000000000000000c3"
	usdc       = "0x00000000000000000000000000000000000000d4"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			AllowedOrigins:  []string{"*"},
			RateLimitPerMin: 10000,
		},
		Chain: config.ChainConfig{ID: 1},
		Store: config.StoreConfig{
			Driver:            config.StoreDriverMemory,
			LockDriver:        "local",
			IdempotencyDriver: "memory",
		},
		JWT: config.JWTConfig{Secret: testSecret, AccessTTL: 900, Issuer: "rail_bridge"},
		Policy: config.PolicyConfig{
			SupportedAssets:   []string{usdc},
			SupportedChains:   []string{"2"},
			FeeRateBps:        30,
			MinTransferAmount: "1",
			MaxTransferAmount: "1000000000",
		},
		Attestor: config.AttestorConfig{
			Mode:            config.AttestorModePrincipal,
			AllowedSubjects: []string{"relayer-1"},
		},
		Events: config.EventsConfig{
			Publisher:    config.PublisherLog,
			PollInterval: 10,
			BatchSize:    10,
			MaxAttempts:  2,
		},
		Reconciliation: config.ReconciliationConfig{Schedule: "*/15 * * * *"},
	}
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T) (*apiClient, *di.Container) {
	t.Helper()
	return newAPIWithConfig(t, testConfig())
}

func newAPIWithConfig(t *testing.T, cfg *config.Config) (*apiClient, *di.Container) {
	t.Helper()
	container, err := di.NewContainer(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })
	return &apiClient{t: t, router: SetupRoutes(container)}, container
}

func (a *apiClient) token(subject, role string) string {
	token, _, err := auth.GenerateToken(subject, role, testSecret, "rail_bridge", time.Hour)
	require.NoError(a.t, err)
	return token
}

func (a *apiClient) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	api, _ := newAPI(t)

	w := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ready", decode(t, w)["status"])
}

func TestBridgeFlow(t *testing.T) {
	api, _ := newAPI(t)
	admin := api.token("root", auth.RoleAdmin)
	user := api.token(alice, auth.RoleUser)
	relayer := api.token("relayer-1", auth.RoleRelayer)

	w := api.do(http.MethodPost, "/api/v1/admin/ledger/fund", admin,
		map[string]string{"account": alice, "asset": usdc, "amount": "1000000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/api/v1/ledger/allowances", user,
		map[string]string{"asset": usdc, "amount": "100000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	initiate := map[string]interface{}{
		"recipient": bob, "asset": usdc, "amount": "100000", "target_chain": 2,
	}
	w = api.do(http.MethodPost, "/api/v1/transfers", user, initiate, "Idempotency-Key", "transfer-0001")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	transfer := decode(t, w)
	assert.Equal(t, "300", transfer["fee"])
	assert.Equal(t, "99700", transfer["amount"])
	assert.Equal(t, "100000", transfer["gross_amount"])
	assert.EqualValues(t, 0, transfer["nonce"])
	id := transfer["identifier"].(string)

	// A retried request replays the stored response without a second debit.
	w = api.do(http.MethodPost, "/api/v1/transfers", user, initiate, "Idempotency-Key", "transfer-0001")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, id, decode(t, w)["identifier"])

	w = api.do(http.MethodGet, "/api/v1/accounts/"+alice+"/nonce", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["next_nonce"])

	w = api.do(http.MethodGet, "/api/v1/transfers/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bob, decode(t, w)["recipient"])

	w = api.do(http.MethodGet, "/api/v1/ledger/accounts/"+alice+"/balances/"+usdc, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "900000", decode(t, w)["balance"])

	// An inbound transfer from chain 2 is credited net of its fee.
	inboundID, err := identifier.Derive(identifier.Fields{
		Sender:      bob,
		Recipient:   carol,
		Asset:       usdc,
		GrossAmount: decimal.NewFromInt(100000),
		TargetChain: 1,
		Nonce:       0,
		SourceChain: 2,
	})
	require.NoError(t, err)
	complete := map[string]interface{}{
		"identifier":   inboundID.String(),
		"sender":       bob,
		"recipient":    carol,
		"asset":        usdc,
		"gross_amount": "100000",
		"source_chain": 2,
		"nonce":        0,
		"net_amount":   "99700",
	}
	w = api.do(http.MethodPost, "/api/v1/completions", relayer, complete)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "99700", decode(t, w)["credited_amount"])

	w = api.do(http.MethodPost, "/api/v1/completions", relayer, complete)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodGet, "/api/v1/transfers/"+inboundID.String()+"/processed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["processed"])

	w = api.do(http.MethodGet, "/api/v1/ledger/accounts/"+carol+"/balances/"+usdc, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "99700", decode(t, w)["balance"])

	w = api.do(http.MethodGet, "/api/v1/admin/reconciliation/latest", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodPost, "/api/v1/admin/reconciliation/run", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decode(t, w)
	assert.EqualValues(t, 0, run["discrepancies"])

	w = api.do(http.MethodGet, "/api/v1/admin/reconciliation/latest", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, run["id"], decode(t, w)["id"])

	w = api.do(http.MethodGet, "/api/v1/admin/reconciliation/reports/"+run["id"].(string), admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/api/v1/admin/reconciliation/reports?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestCompletion_TamperedIdentifierRejected(t *testing.T) {
	api, _ := newAPI(t)
	relayer := api.token("relayer-1", auth.RoleRelayer)

	inboundID, err := identifier.Derive(identifier.Fields{
		Sender: bob, Recipient: carol, Asset: usdc,
		GrossAmount: decimal.NewFromInt(5000), TargetChain: 1, Nonce: 3, SourceChain: 2,
	})
	require.NoError(t, err)

	w := api.do(http.MethodPost, "/api/v1/completions", relayer, map[string]interface{}{
		"identifier":   inboundID.String(),
		"sender":       bob,
		"recipient":    carol,
		"asset":        usdc,
		"gross_amount": "5001",
		"source_chain": 2,
		"nonce":        3,
		"net_amount":   "5000",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestAccessControl(t *testing.T) {
	api, _ := newAPI(t)
	user := api.token(alice, auth.RoleUser)

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		body     interface{}
		expected int
	}{
		{"initiate without token", http.MethodPost, "/api/v1/transfers", "",
			map[string]interface{}{"recipient": bob, "asset": usdc, "amount": "10", "target_chain": 2}, http.StatusUnauthorized},
		{"user cannot pause", http.MethodPost, "/api/v1/admin/pause", user, nil, http.StatusForbidden},
		{"user cannot complete", http.MethodPost, "/api/v1/completions", user, map[string]interface{}{}, http.StatusForbidden},
		{"policy is public", http.MethodGet, "/api/v1/policy", "", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.expected, w.Code, w.Body.String())
		})
	}
}

func TestPauseBlocksInitiate(t *testing.T) {
	api, _ := newAPI(t)
	admin := api.token("root", auth.RoleAdmin)
	user := api.token(alice, auth.RoleUser)

	w := api.do(http.MethodPost, "/api/v1/admin/pause", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["paused"])

	w = api.do(http.MethodPost, "/api/v1/transfers", user,
		map[string]interface{}{"recipient": bob, "asset": usdc, "amount": "100", "target_chain": 2})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/api/v1/admin/unpause", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["paused"])
}

func TestAdminPolicyUpdates(t *testing.T) {
	api, _ := newAPI(t)
	admin := api.token("root", auth.RoleAdmin)

	w := api.do(http.MethodPut, "/api/v1/admin/fee", admin, map[string]interface{}{"fee_rate_bps": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 50, decode(t, w)["fee_rate_bps"])

	w = api.do(http.MethodPut, "/api/v1/admin/limits", admin, map[string]string{"min_amount": "10", "max_amount": "5"})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = api.do(http.MethodPut, "/api/v1/admin/chains/1", admin, map[string]interface{}{"supported": true})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = api.do(http.MethodPut, "/api/v1/admin/chains/3", admin, map[string]interface{}{"supported": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["supported_chains"], float64(3))
}

func TestCompletion_UntrustedRelayer(t *testing.T) {
	api, _ := newAPI(t)
	untrusted := api.token("relayer-9", auth.RoleRelayer)

	inboundID, err := identifier.Derive(identifier.Fields{
		Sender: bob, Recipient: carol, Asset: usdc,
		GrossAmount: decimal.NewFromInt(10), TargetChain: 1, Nonce: 0, SourceChain: 2,
	})
	require.NoError(t, err)

	w := api.do(http.MethodPost, "/api/v1/completions", untrusted, map[string]interface{}{
		"identifier":   inboundID.String(),
		"sender":       bob,
		"recipient":    carol,
		"asset":        usdc,
		"gross_amount": "10",
		"source_chain": 2,
		"nonce":        0,
		"net_amount":   "10",
	})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/transfers/"+inboundID.String()+"/processed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["processed"])
}

func TestAdminMutationsRequireTOTP(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	cfg := testConfig()
	cfg.Security.RequireAdminTOTP = true
	cfg.Security.AdminTOTPSecret = secret
	api, _ := newAPIWithConfig(t, cfg)
	admin := api.token("ops", auth.RoleAdmin)

	w := api.do(http.MethodPost, "/api/v1/admin/pause", admin, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	w = api.do(http.MethodPost, "/api/v1/admin/pause", admin, nil, "X-TOTP-Code", code)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["paused"])

	// Reads stay behind the role check only.
	w = api.do(http.MethodGet, "/api/v1/admin/reconciliation/reports", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSwaggerOutsideProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Server.EnableSwagger = true
	api, _ := newAPIWithConfig(t, cfg)
	w := api.do(http.MethodGet, "/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Rail Bridge API")

	prod := testConfig()
	prod.Environment = "production"
	prod.Server.EnableSwagger = true
	api, _ = newAPIWithConfig(t, prod)
	w = api.do(http.MethodGet, "/swagger/doc.json", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
