package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/audit"
	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/encryption"
	"github.com/zwoods58/WebApp-sub006/internal/hashing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/repository/memory"
	"github.com/zwoods58/WebApp-sub006/internal/service"
	"github.com/zwoods58/WebApp-sub006/internal/session"
	"github.com/zwoods58/WebApp-sub006/internal/verification"
)

var codePattern = regexp.MustCompile(`\d{6}`)

type outbox struct {
	mu   sync.Mutex
	last map[string]string
}

func (o *outbox) Send(_ context.Context, to, message string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last[to] = message
	return true, nil
}

func (o *outbox) code(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return codePattern.FindString(o.last[to])
}

type testServer struct {
	router http.Handler
	store  *memory.Store
	sms    *outbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	sms := &outbox{last: map[string]string{}}
	email := &outbox{last: map[string]string{}}

	enc, err := encryption.NewEncryptionManager(config.KMSConfig{}, nil, false, logger)
	require.NoError(t, err)
	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, "")
	recorder := audit.NewRecorder(store, time.Second, logger)
	verifyCfg := config.VerificationConfig{CodeTTL: 10 * time.Minute}
	verifier := verification.NewService(verifyCfg, store,
		verification.CountryRoutes{model.CountryKE: {Strategy: verification.StrategyLocalSMS, Transport: sms}},
		email, nil, recorder, logger)
	sessions := session.NewManager(config.TokenConfig{
		SigningKey: "0123456789abcdef0123456789abcdef",
		Issuer:     "auth-core",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, store, memory.NewDenyList(), logger)

	svc := service.NewAuthService(store, hasher, sessions, verifier, memory.NewRecoveryStateStore(), enc, recorder, verifyCfg, logger)
	router := NewRouter(NewAuthHandler(svc, logger), store, RouterOptions{
		AllowedOrigins: []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}, logger)
	return &testServer{router: router, store: store, sms: sms}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

// signup drives request-verification and signup and returns the tokens.
func (s *testServer) signup(t *testing.T, phone, fingerprint string) (access, sessionID string) {
	t.Helper()
	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{
		"action": "request-verification", "identifier": phone, "country": "KE", "purpose": "signup",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{
		"action":             "signup",
		"phone":              phone,
		"country":            "KE",
		"pin":                "445566",
		"business_name":      "Jane's Kiosk",
		"backup_email":       "jane@example.com",
		"code":               s.sms.code(phone),
		"device_fingerprint": fingerprint,
		"device_label":       "Tecno Spark",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	return data["access_token"].(string), data["session_id"].(string)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.signup(t, "254712345678", "fp-a")

	rec, resp := s.do(t, http.MethodGet, "/api/v1/me", access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Jane's Kiosk", resp.Data.(map[string]any)["business_name"])

	rec, resp = s.do(t, http.MethodGet, "/api/v1/sessions", access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]any), 1)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/insights", access, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "this feature requires the pro plan", resp.Error)

	rec, resp = s.do(t, http.MethodPost, "/api/v1/auth", access, map[string]string{"action": "logout"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), resp.Data.(map[string]any)["revoked"])

	rec, resp = s.do(t, http.MethodGet, "/api/v1/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestInsights_ProTier(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.signup(t, "254712345678", "fp-a")

	u, err := s.store.GetUserByPhone(context.Background(), "254712345678")
	require.NoError(t, err)
	s.store.SetTier(u.ID, model.TierPro)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/insights", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["active_sessions"])
	assert.Equal(t, []any{"Tecno Spark"}, data["devices"])
}

func TestRevokeSession(t *testing.T) {
	s := newTestServer(t)
	first, firstID := s.signup(t, "254712345678", "fp-a")

	rec, resp := s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{
		"action": "login", "phone": "254712345678", "pin": "445566", "device_fingerprint": "fp-b",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	second := resp.Data.(map[string]any)["access_token"].(string)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth", second, map[string]string{"action": "revoke-session"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth", second, map[string]string{
		"action": "revoke-session", "session_id": firstID,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/me", first, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = s.do(t, http.MethodGet, "/api/v1/me", second, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAction_Errors(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "254712345678", "fp-a")

	tests := []struct {
		name   string
		token  string
		body   any
		status int
		errMsg string
	}{
		{"missing action", "", map[string]string{}, http.StatusBadRequest, "action is required"},
		{"unknown action", "", map[string]string{"action": "delete-account"}, http.StatusBadRequest, "unknown action"},
		{"wrong field type", "", map[string]any{"action": "login", "pin": 445566}, http.StatusBadRequest, "field pin has the wrong type"},
		{"bad pin format", "", map[string]string{"action": "login", "phone": "254712345678", "pin": "12"}, http.StatusBadRequest, "PIN must be exactly 6 digits"},
		{"wrong pin", "", map[string]string{"action": "login", "phone": "254712345678", "pin": "000000"}, http.StatusUnauthorized, "invalid credentials"},
		{"unknown phone", "", map[string]string{"action": "login", "phone": "254799999999", "pin": "445566"}, http.StatusUnauthorized, "invalid credentials"},
		{"logout without token", "", map[string]string{"action": "logout"}, http.StatusUnauthorized, "unauthorized"},
		{"logout with garbage token", "abc.def.ghi", map[string]string{"action": "logout"}, http.StatusUnauthorized, "unauthorized"},
		{"recovery for unknown user", "", map[string]string{"action": "request-recovery", "phone": "254799999999"}, http.StatusNotFound, "user not found"},
		{"bad purpose", "", map[string]string{"action": "request-verification", "identifier": "254712345678", "country": "KE", "purpose": "login"}, http.StatusBadRequest, "purpose must be signup or recovery"},
		{"malformed signup code", "", map[string]string{"action": "signup", "phone": "254712345679", "country": "KE", "pin": "445566", "business_name": "Prescription Pharmacy", "code": "12ab"}, http.StatusBadRequest, "code must be exactly 6 digits"},
		{"bad refresh", "", map[string]string{"action": "refresh-token", "refresh_token": "nope"}, http.StatusUnauthorized, "unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := s.do(t, http.MethodPost, "/api/v1/auth", tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.errMsg, resp.Error)
		})
	}
}

func TestHandleAction_InvalidJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshOverHTTP(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{
		"action": "request-verification", "identifier": "254712345678", "country": "KE", "purpose": "signup",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, resp := s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{
		"action": "signup", "phone": "254712345678", "country": "KE", "pin": "445566",
		"business_name": "Jane's Kiosk", "code": s.sms.code("254712345678"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	refresh := resp.Data.(map[string]any)["refresh_token"].(string)

	rec, resp = s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]string{"action": "refresh-token", "refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	access := resp.Data.(map[string]any)["access_token"].(string)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/me", access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndNotFound(t *testing.T) {
	s := newTestServer(t)

	rec, resp := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint not found", resp.Error)
}

func TestRequireHTTPS(t *testing.T) {
	h := requireHTTPS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
