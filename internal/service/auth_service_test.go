package service

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/audit"
	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/encryption"
	"github.com/zwoods58/WebApp-sub006/internal/hashing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/repository/memory"
	"github.com/zwoods58/WebApp-sub006/internal/session"
	"github.com/zwoods58/WebApp-sub006/internal/verification"
)

const (
	testPhone = "254712345678"
	testEmail = "jane@example.com"
	testPIN   = "445566"
)

var codePattern = regexp.MustCompile(`\d{6}`)

type fakeTransport struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][]string)}
}

func (f *fakeTransport) Send(_ context.Context, to, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[to] = append(f.sent[to], message)
	return true, nil
}

func (f *fakeTransport) lastCode(t *testing.T, to string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[to]
	require.NotEmpty(t, msgs, "nothing sent to %s", to)
	code := codePattern.FindString(msgs[len(msgs)-1])
	require.NotEmpty(t, code)
	return code
}

type fixture struct {
	svc      *AuthService
	store    *memory.Store
	recovery *memory.RecoveryStateStore
	hasher   *hashing.Hasher
	sms      *fakeTransport
	email    *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	recovery := memory.NewRecoveryStateStore()
	sms, email := newFakeTransport(), newFakeTransport()

	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{
		Memory:      1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}, "")
	enc, err := encryption.NewEncryptionManager(config.KMSConfig{}, nil, false, logger)
	require.NoError(t, err)

	recorder := audit.NewRecorder(store, time.Second, logger)
	verifyCfg := config.VerificationConfig{CodeTTL: 10 * time.Minute}
	routes := verification.CountryRoutes{
		model.CountryKE: {Strategy: verification.StrategyLocalSMS, Transport: sms},
		model.CountryNG: {Strategy: verification.StrategyLocalSMS, Transport: sms},
	}
	verifier := verification.NewService(verifyCfg, store, routes, email, nil, recorder, logger)
	sessions := session.NewManager(config.TokenConfig{
		SigningKey: "0123456789abcdef0123456789abcdef",
		Issuer:     "auth-core",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}, store, nil, logger)

	factory := NewServiceFactory(store, hasher, sessions, verifier, recovery, enc, recorder, verifyCfg, logger)
	t.Cleanup(factory.Cleanup)

	return &fixture{
		svc:      factory.AuthService(),
		store:    store,
		recovery: recovery,
		hasher:   hasher,
		sms:      sms,
		email:    email,
	}
}

func (f *fixture) signup(t *testing.T, phone, fingerprint string) *AuthResult {
	t.Helper()
	ctx := context.Background()
	sent, err := f.svc.RequestVerification(ctx, VerificationRequest{Identifier: phone, Country: "KE", Purpose: "signup"})
	require.NoError(t, err)
	require.True(t, sent)

	res, err := f.svc.Signup(ctx, SignupRequest{
		Phone:             phone,
		Country:           "KE",
		PIN:               testPIN,
		BusinessName:      "Jane's Kiosk",
		BackupEmail:       testEmail,
		Code:              f.sms.lastCode(t, phone),
		DeviceFingerprint: fingerprint,
		DeviceLabel:       "Tecno Spark",
	}, RequestMeta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return res
}

func (f *fixture) count(typ model.EventType) int {
	n := 0
	for _, e := range f.store.Events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func otherCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.signup(t, testPhone, "fp-a")
	assert.Equal(t, testPhone, res.User.Phone)
	assert.Equal(t, model.CountryKE, res.User.Country)
	assert.Equal(t, model.TierFree, res.User.Tier)
	assert.Equal(t, "j***@example.com", res.User.BackupEmail)
	assert.Equal(t, int64(900), res.ExpiresIn)

	user, err := f.store.GetUserByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, f.hasher.VerifyPIN(user.PINHash, "445566"))
	assert.False(t, f.hasher.VerifyPIN(user.PINHash, "445567"))
	assert.Equal(t, hashing.HashSecurityAnswer("janeskiosk"), user.SecurityAnswerHash)
	assert.NotEmpty(t, user.BackupEmailEnc)
	assert.NotContains(t, user.BackupEmailEnc, testEmail)

	p, err := f.svc.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.Equal(t, 1, f.count(model.EventSignupSuccess))
}

func TestSignup_WrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestVerification(ctx, VerificationRequest{Identifier: testPhone, Country: "KE", Purpose: "signup"})
	require.NoError(t, err)

	_, err = f.svc.Signup(ctx, SignupRequest{
		Phone:        testPhone,
		Country:      "KE",
		PIN:          testPIN,
		BusinessName: "Jane's Kiosk",
		Code:         otherCode(f.sms.lastCode(t, testPhone)),
	}, RequestMeta{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	_, err = f.store.GetUserByPhone(ctx, testPhone)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 1, f.count(model.EventSignupFailed))
}

func TestSignup_RecoveryCodeNotAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestVerification(ctx, VerificationRequest{Identifier: testPhone, Country: "KE", Purpose: "recovery"})
	require.NoError(t, err)

	_, err = f.svc.Signup(ctx, SignupRequest{
		Phone:        testPhone,
		Country:      "KE",
		PIN:          testPIN,
		BusinessName: "Jane's Kiosk",
		Code:         f.sms.lastCode(t, testPhone),
	}, RequestMeta{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestSignup_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.signup(t, testPhone, "fp-a")

	ctx := context.Background()
	_, err := f.svc.RequestVerification(ctx, VerificationRequest{Identifier: testPhone, Country: "KE", Purpose: "signup"})
	require.NoError(t, err)
	_, err = f.svc.Signup(ctx, SignupRequest{
		Phone:        testPhone,
		Country:      "KE",
		PIN:          testPIN,
		BusinessName: "Another Shop",
		Code:         f.sms.lastCode(t, testPhone),
	}, RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSignup_Validation(t *testing.T) {
	f := newFixture(t)
	valid := SignupRequest{
		Phone:        testPhone,
		Country:      "KE",
		PIN:          testPIN,
		BusinessName: "Jane's Kiosk",
		Code:         "123456",
	}

	tests := []struct {
		name   string
		mutate func(*SignupRequest)
	}{
		{"bad phone", func(r *SignupRequest) { r.Phone = "12ab" }},
		{"unsupported country", func(r *SignupRequest) { r.Country = "US" }},
		{"country mismatch", func(r *SignupRequest) { r.Phone = "2348012345678" }},
		{"short PIN", func(r *SignupRequest) { r.PIN = "12345" }},
		{"letters in PIN", func(r *SignupRequest) { r.PIN = "12a456" }},
		{"empty business name", func(r *SignupRequest) { r.BusinessName = "  " }},
		{"markup in business name", func(r *SignupRequest) { r.BusinessName = "<b>Shop</b>" }},
		{"bad backup email", func(r *SignupRequest) { r.BackupEmail = "jane@@example" }},
		{"malformed code", func(r *SignupRequest) { r.Code = "12ab" }},
		{"short code", func(r *SignupRequest) { r.Code = "12345" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := f.svc.Signup(context.Background(), req, RequestMeta{})
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestSignup_OrdinaryBusinessNames(t *testing.T) {
	names := []string{"Prescription Pharmacy", "Scripture Bookshop", "Transcript Services", "Description Kiosk"}
	for i, name := range names {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			phone := fmt.Sprintf("25471234560%d", i)

			_, err := f.svc.RequestVerification(ctx, VerificationRequest{Identifier: phone, Country: "KE", Purpose: "signup"})
			require.NoError(t, err)
			res, err := f.svc.Signup(ctx, SignupRequest{
				Phone:        phone,
				Country:      "KE",
				PIN:          testPIN,
				BusinessName: name,
				BackupEmail:  testEmail,
				Code:         f.sms.lastCode(t, phone),
			}, RequestMeta{})
			require.NoError(t, err)
			assert.Equal(t, name, res.User.BusinessName)
		})
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.signup(t, testPhone, "fp-a")
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, LoginRequest{Phone: "254700000000", PIN: testPIN}, RequestMeta{})
	_, errWrong := f.svc.Login(ctx, LoginRequest{Phone: testPhone, PIN: "000000"}, RequestMeta{})

	assert.ErrorIs(t, errUnknown, apperr.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, apperr.ErrInvalidCredentials)
	assert.Equal(t, apperr.PublicMessage(errUnknown), apperr.PublicMessage(errWrong))
	assert.Equal(t, apperr.HTTPStatus(errUnknown), apperr.HTTPStatus(errWrong))
	assert.Equal(t, 2, f.count(model.EventLoginFailed))
}

func TestLogout_RevokeOtherDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.signup(t, testPhone, "fp-a")
	second, err := f.svc.Login(ctx, LoginRequest{Phone: testPhone, PIN: testPIN, DeviceFingerprint: "fp-b"}, RequestMeta{})
	require.NoError(t, err)
	third, err := f.svc.Login(ctx, LoginRequest{Phone: testPhone, PIN: testPIN, DeviceFingerprint: "fp-c"}, RequestMeta{})
	require.NoError(t, err)

	p, err := f.svc.Authenticate(ctx, second.AccessToken)
	require.NoError(t, err)

	n, err := f.svc.Logout(ctx, p, LogoutRequest{Scope: ScopeOthers}, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.svc.Authenticate(ctx, first.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.svc.Authenticate(ctx, third.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.svc.Authenticate(ctx, second.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.count(model.EventSessionRevoked))
}

func TestLogout_Scopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.signup(t, testPhone, "fp-a")
	second, err := f.svc.Login(ctx, LoginRequest{Phone: testPhone, PIN: testPIN, DeviceFingerprint: "fp-b"}, RequestMeta{})
	require.NoError(t, err)

	p, err := f.svc.Authenticate(ctx, first.AccessToken)
	require.NoError(t, err)

	_, err = f.svc.Logout(ctx, p, LogoutRequest{Scope: "everything"}, RequestMeta{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// revoke-session on the other device
	n, err := f.svc.Logout(ctx, p, LogoutRequest{SessionID: second.SessionID}, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = f.svc.Authenticate(ctx, second.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	n, err = f.svc.Logout(ctx, p, LogoutRequest{}, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = f.svc.Authenticate(ctx, first.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, testPhone, "fp-a")

	_, err := f.svc.RefreshToken(ctx, RefreshRequest{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	grant, err := f.svc.RefreshToken(ctx, RefreshRequest{RefreshToken: res.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, grant.SessionID)

	p, err := f.svc.Authenticate(ctx, grant.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, p.UserID)

	_, err = f.svc.RefreshToken(ctx, RefreshRequest{RefreshToken: "not-a-credential"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRequireTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, testPhone, "fp-a")
	p, err := f.svc.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)

	err = f.svc.RequireTier(ctx, p, model.TierPro)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAccessTier, apperr.KindOf(err))
	assert.Equal(t, "this feature requires the pro plan", apperr.PublicMessage(err))

	f.store.SetTier(p.UserID, model.TierPro)
	assert.NoError(t, f.svc.RequireTier(ctx, p, model.TierPro))
}

func TestProfileAndSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, testPhone, "fp-a")
	_, err := f.svc.Login(ctx, LoginRequest{Phone: testPhone, PIN: testPIN, DeviceFingerprint: "fp-b"}, RequestMeta{})
	require.NoError(t, err)

	p, err := f.svc.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)

	profile, err := f.svc.Profile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Jane's Kiosk", profile.BusinessName)
	assert.Equal(t, "j***@example.com", profile.BackupEmail)

	sessions, err := f.svc.ListSessions(ctx, p)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	current := 0
	for _, s := range sessions {
		if s.Current {
			current++
			assert.Equal(t, res.SessionID, s.ID)
		}
	}
	assert.Equal(t, 1, current)
}

func TestAdminRevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, testPhone, "fp-a")

	n, err := f.svc.AdminRevokeAll(ctx, "+254 712 345 678", "lost device")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.svc.Authenticate(ctx, res.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, 1, f.count(model.EventAccountLocked))

	_, err = f.svc.AdminRevokeAll(ctx, "254700000000", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAuthenticate_EmptyToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
