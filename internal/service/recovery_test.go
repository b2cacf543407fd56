package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/model"
)

func TestRecovery_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, testPhone, "fp-a")

	require.NoError(t, f.svc.RequestRecovery(ctx, RecoveryRequest{Phone: testPhone}, RequestMeta{}))
	state, err := f.recovery.GetRecoveryState(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryCodesRequested, state)

	phoneCode := f.sms.lastCode(t, testPhone)
	emailCode := f.email.lastCode(t, testEmail)
	assert.Equal(t, phoneCode, emailCode, "one shared code goes to both channels")

	err = f.svc.CompleteRecovery(ctx, CompleteRecoveryRequest{
		Phone:          testPhone,
		PhoneCode:      phoneCode,
		EmailCode:      emailCode,
		SecurityAnswer: "janes kiosk!",
		NewPIN:         "112233",
	}, RequestMeta{})
	require.NoError(t, err)

	state, err = f.recovery.GetRecoveryState(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryNotStarted, state)

	// every pre-existing session is dead
	_, err = f.svc.Authenticate(ctx, res.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Login(ctx, LoginRequest{Phone: testPhone, PIN: testPIN}, RequestMeta{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, LoginRequest{Phone: testPhone, PIN: "112233"}, RequestMeta{})
	assert.NoError(t, err)

	assert.Equal(t, 1, f.count(model.EventPINReset))
}

func TestRecovery_AnyWrongFactorLeavesPINUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CompleteRecoveryRequest)
	}{
		{"wrong security answer", func(r *CompleteRecoveryRequest) { r.SecurityAnswer = "Bob's Hardware" }},
		{"wrong phone code", func(r *CompleteRecoveryRequest) { r.PhoneCode = otherCode(r.PhoneCode) }},
		{"wrong email code", func(r *CompleteRecoveryRequest) { r.EmailCode = otherCode(r.EmailCode) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			res := f.signup(t, testPhone, "fp-a")

			before, err := f.store.GetUserByPhone(ctx, testPhone)
			require.NoError(t, err)

			require.NoError(t, f.svc.RequestRecovery(ctx, RecoveryRequest{Phone: testPhone}, RequestMeta{}))
			code := f.sms.lastCode(t, testPhone)
			req := CompleteRecoveryRequest{
				Phone:          testPhone,
				PhoneCode:      code,
				EmailCode:      code,
				SecurityAnswer: "Jane's Kiosk",
				NewPIN:         "112233",
			}
			tt.mutate(&req)

			err = f.svc.CompleteRecovery(ctx, req, RequestMeta{})
			assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
			assert.Equal(t, "invalid credentials", apperr.PublicMessage(err))

			after, err := f.store.GetUserByPhone(ctx, testPhone)
			require.NoError(t, err)
			assert.Equal(t, before.PINHash, after.PINHash)

			_, err = f.svc.Authenticate(ctx, res.AccessToken)
			assert.NoError(t, err, "sessions survive a failed recovery")

			state, err := f.recovery.GetRecoveryState(ctx, testPhone)
			require.NoError(t, err)
			assert.Equal(t, model.RecoveryNotStarted, state)

			// the flow restarted: retrying with the right factors needs a new request
			req.SecurityAnswer, req.PhoneCode, req.EmailCode = "Jane's Kiosk", code, code
			err = f.svc.CompleteRecovery(ctx, req, RequestMeta{})
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestCompleteRecovery_MalformedCodes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CompleteRecoveryRequest)
		msg    string
	}{
		{"short phone code", func(r *CompleteRecoveryRequest) { r.PhoneCode = "12" }, "phone_code must be exactly 6 digits"},
		{"letters in email code", func(r *CompleteRecoveryRequest) { r.EmailCode = "12ab56" }, "email_code must be exactly 6 digits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.signup(t, testPhone, "fp-a")

			require.NoError(t, f.svc.RequestRecovery(ctx, RecoveryRequest{Phone: testPhone}, RequestMeta{}))
			code := f.sms.lastCode(t, testPhone)
			req := CompleteRecoveryRequest{
				Phone:          testPhone,
				PhoneCode:      code,
				EmailCode:      code,
				SecurityAnswer: "Jane's Kiosk",
				NewPIN:         "112233",
			}
			tt.mutate(&req)

			err := f.svc.CompleteRecovery(ctx, req, RequestMeta{})
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tt.msg, apperr.PublicMessage(err))

			// nothing was consumed, so the well-formed attempt still succeeds
			state, err := f.recovery.GetRecoveryState(ctx, testPhone)
			require.NoError(t, err)
			assert.Equal(t, model.RecoveryCodesRequested, state)

			req.PhoneCode, req.EmailCode = code, code
			require.NoError(t, f.svc.CompleteRecovery(ctx, req, RequestMeta{}))
		})
	}
}

func TestRecovery_RequiresRequestedCodes(t *testing.T) {
	f := newFixture(t)
	f.signup(t, testPhone, "fp-a")

	err := f.svc.CompleteRecovery(context.Background(), CompleteRecoveryRequest{
		Phone:          testPhone,
		PhoneCode:      "123456",
		EmailCode:      "123456",
		SecurityAnswer: "Jane's Kiosk",
		NewPIN:         "112233",
	}, RequestMeta{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRecovery_SignupCodeNotAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, testPhone, "fp-a")

	require.NoError(t, f.svc.RequestRecovery(ctx, RecoveryRequest{Phone: testPhone}, RequestMeta{}))
	emailCode := f.email.lastCode(t, testEmail)

	// a newer signup code on the phone must not satisfy the recovery check
	_, err := f.svc.RequestVerification(ctx, VerificationRequest{Identifier: testPhone, Country: "KE", Purpose: "signup"})
	require.NoError(t, err)
	signupCode := f.sms.lastCode(t, testPhone)
	if signupCode == emailCode {
		t.Skip("random codes collided")
	}

	err = f.svc.CompleteRecovery(ctx, CompleteRecoveryRequest{
		Phone:          testPhone,
		PhoneCode:      signupCode,
		EmailCode:      emailCode,
		SecurityAnswer: "Jane's Kiosk",
		NewPIN:         "112233",
	}, RequestMeta{})
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestRequestRecovery_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.RequestRecovery(ctx, RecoveryRequest{Phone: testPhone}, RequestMeta{})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = f.svc.RequestRecovery(ctx, RecoveryRequest{Phone: "abc"}, RequestMeta{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// account without a backup email
	_, err = f.svc.RequestVerification(ctx, VerificationRequest{Identifier: testPhone, Country: "KE", Purpose: "signup"})
	require.NoError(t, err)
	_, err = f.svc.Signup(ctx, SignupRequest{
		Phone:        testPhone,
		Country:      "KE",
		PIN:          testPIN,
		BusinessName: "Jane's Kiosk",
		Code:         f.sms.lastCode(t, testPhone),
	}, RequestMeta{})
	require.NoError(t, err)

	err = f.svc.RequestRecovery(ctx, RecoveryRequest{Phone: testPhone}, RequestMeta{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "no backup email on file", apperr.PublicMessage(err))
}
