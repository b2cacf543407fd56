package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/encryption"
	"github.com/zwoods58/WebApp-sub006/internal/hashing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/session"
	"github.com/zwoods58/WebApp-sub006/internal/util"
	"github.com/zwoods58/WebApp-sub006/internal/verification"
)

// backupEmailPurpose is the AAD bound to encrypted backup emails.
const backupEmailPurpose = "backup_email"

// AuthService is the orchestrator. It is the only component that combines
// the hasher, the verification service and the session manager in one call.
type AuthService struct {
	users     model.UserRepository
	hasher    *hashing.Hasher
	sessions  *session.Manager
	verifier  *verification.Service
	recovery  model.RecoveryStateStore
	encryptor *encryption.EncryptionManager
	auditor   verification.Auditor
	cfg       config.VerificationConfig
	now       func() time.Time
	logger    *zap.Logger
}

func NewAuthService(
	users model.UserRepository,
	hasher *hashing.Hasher,
	sessions *session.Manager,
	verifier *verification.Service,
	recovery model.RecoveryStateStore,
	encryptor *encryption.EncryptionManager,
	auditor verification.Auditor,
	cfg config.VerificationConfig,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		hasher:    hasher,
		sessions:  sessions,
		verifier:  verifier,
		recovery:  recovery,
		encryptor: encryptor,
		auditor:   auditor,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// Signup consumes a signup code for the phone, creates the user and opens
// the first session.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest, meta RequestMeta) (*AuthResult, error) {
	phone, country, err := parsePhoneCountry(req.Phone, req.Country)
	if err != nil {
		return nil, err
	}
	if err := validatePIN(req.PIN); err != nil {
		return nil, err
	}
	businessName, err := validateBusinessName(req.BusinessName)
	if err != nil {
		return nil, err
	}
	var email string
	if req.BackupEmail != "" {
		var ok bool
		if email, ok = util.NormalizeEmail(req.BackupEmail); !ok {
			return nil, apperr.Validation("invalid backup email")
		}
	}
	if err := validateCode("code", req.Code); err != nil {
		return nil, err
	}

	valid, err := s.verifier.CheckCode(ctx, phone, req.Code, model.PurposeSignup, country)
	if err != nil {
		return nil, err
	}
	if !valid {
		s.audit(ctx, meta, model.EventSignupFailed, "", phone, country, map[string]string{"reason": "invalid_code"})
		return nil, apperr.ErrInvalidCredentials
	}

	pinHash, err := s.hasher.HashPIN(req.PIN)
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	var emailEnc string
	if email != "" {
		if emailEnc, err = s.encryptor.EncryptString(ctx, email, backupEmailPurpose); err != nil {
			return nil, apperr.Dependency(err)
		}
	}

	now := s.now().UTC()
	user := &model.User{
		ID:                 uuid.NewString(),
		Phone:              phone,
		Country:            country,
		PINHash:            pinHash,
		BusinessName:       businessName,
		BackupEmailEnc:     emailEnc,
		SecurityAnswerHash: hashing.HashSecurityAnswer(businessName),
		Tier:               model.TierFree,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			s.audit(ctx, meta, model.EventSignupFailed, "", phone, country, map[string]string{"reason": "duplicate_phone"})
			return nil, apperr.Validation("phone number already registered")
		}
		return nil, apperr.Dependency(err)
	}

	tokens, err := s.sessions.CreateSession(ctx, user.ID, req.DeviceFingerprint, req.DeviceLabel)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, meta, model.EventSignupSuccess, user.ID, phone, country, map[string]string{"session_id": tokens.SessionID})
	s.logger.Info("User signed up", util.UserID(user.ID), util.MaskPhone(phone), zap.String("country", string(country)))
	return newAuthResult(user, email, tokens), nil
}

// Login checks phone and PIN. An unknown phone and a wrong PIN produce the
// same error after the same hashing work.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, meta RequestMeta) (*AuthResult, error) {
	phone, err := parsePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	if err := validatePIN(req.PIN); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return nil, apperr.Dependency(err)
		}
		s.hasher.DummyVerify(req.PIN)
		s.audit(ctx, meta, model.EventLoginFailed, "", phone, "", map[string]string{"reason": "unknown_phone"})
		return nil, apperr.ErrInvalidCredentials
	}

	if !s.hasher.VerifyPIN(user.PINHash, req.PIN) {
		s.audit(ctx, meta, model.EventLoginFailed, user.ID, phone, user.Country, map[string]string{"reason": "wrong_pin"})
		return nil, apperr.ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PINHash) {
		s.rehash(ctx, user, req.PIN)
	}

	tokens, err := s.sessions.CreateSession(ctx, user.ID, req.DeviceFingerprint, req.DeviceLabel)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, meta, model.EventLoginSuccess, user.ID, phone, user.Country, map[string]string{"session_id": tokens.SessionID})
	return newAuthResult(user, s.backupEmail(ctx, user), tokens), nil
}

// rehash upgrades a PIN hash written under older argon2 parameters. A lost
// race with a concurrent PIN change is ignored.
func (s *AuthService) rehash(ctx context.Context, user *model.User, pin string) {
	newHash, err := s.hasher.HashPIN(pin)
	if err != nil {
		s.logger.Warn("Failed to rehash PIN", util.UserID(user.ID), zap.Error(err))
		return
	}
	if _, err := s.users.UpdatePINHash(ctx, user.ID, user.PINHash, newHash, s.now().UTC()); err != nil {
		s.logger.Warn("Failed to store rehashed PIN", util.UserID(user.ID), zap.Error(err))
		return
	}
	user.PINHash = newHash
}

// Logout revokes sessions of the authenticated caller. A named SessionID
// takes precedence over Scope.
func (s *AuthService) Logout(ctx context.Context, p *session.Principal, req LogoutRequest, meta RequestMeta) (int64, error) {
	opts := session.RevokeOptions{}
	switch {
	case req.SessionID != "":
		opts.SessionID = req.SessionID
	case req.Scope == "" || req.Scope == ScopeCurrent:
		opts.SessionID = p.SessionID
	case req.Scope == ScopeOthers:
		opts.ExceptSessionID = p.SessionID
	case req.Scope == ScopeAll:
	default:
		return 0, apperr.Validation("scope must be one of current, others, all")
	}

	n, err := s.sessions.Revoke(ctx, p.UserID, opts)
	if err != nil {
		return 0, err
	}
	s.audit(ctx, meta, model.EventSessionRevoked, p.UserID, "", "", map[string]string{
		"scope":   scopeName(req),
		"revoked": strconv.FormatInt(n, 10),
		"by":      p.SessionID,
	})
	return n, nil
}

func scopeName(req LogoutRequest) string {
	switch {
	case req.SessionID != "":
		return "session"
	case req.Scope == "":
		return ScopeCurrent
	default:
		return req.Scope
	}
}

func (s *AuthService) RefreshToken(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	if req.RefreshToken == "" {
		return nil, apperr.Validation("refresh_token is required")
	}
	grant, err := s.sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		AccessToken: grant.AccessToken,
		SessionID:   grant.SessionID,
		ExpiresIn:   int64(grant.AccessTTL.Seconds()),
	}, nil
}

// RequestVerification sends a code for purpose to a phone or email.
func (s *AuthService) RequestVerification(ctx context.Context, req VerificationRequest) (bool, error) {
	purpose := model.Purpose(req.Purpose)
	if !purpose.Valid() {
		return false, apperr.Validation("purpose must be signup or recovery")
	}
	var country model.Country
	if !util.IsEmail(req.Identifier) {
		c, ok := model.ParseCountry(req.Country)
		if !ok {
			return false, apperr.Validation("unsupported country")
		}
		country = c
	}
	return s.verifier.RequestCode(ctx, req.Identifier, purpose, country)
}

// Authenticate is the withAuth primitive: it resolves a bearer token to a
// principal or fails with the generic unauthorized error.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*session.Principal, error) {
	if token == "" {
		return nil, apperr.ErrUnauthorized
	}
	return s.sessions.VerifyAccess(ctx, token)
}

// RequireTier fails with an access-tier error when the caller's plan does
// not include required.
func (s *AuthService) RequireTier(ctx context.Context, p *session.Principal, required model.Tier) error {
	user, err := s.user(ctx, p)
	if err != nil {
		return err
	}
	if !user.Tier.Allows(required) {
		return apperr.AccessTier("this feature requires the " + string(required) + " plan")
	}
	return nil
}

func (s *AuthService) Profile(ctx context.Context, p *session.Principal) (*UserView, error) {
	user, err := s.user(ctx, p)
	if err != nil {
		return nil, err
	}
	view := newUserView(user, s.backupEmail(ctx, user))
	return &view, nil
}

func (s *AuthService) ListSessions(ctx context.Context, p *session.Principal) ([]SessionView, error) {
	sessions, err := s.sessions.ListSessions(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{
			ID:            sess.ID,
			DeviceLabel:   sess.DeviceLabel,
			CreatedAt:     sess.CreatedAt,
			ExpiresAt:     sess.ExpiresAt,
			LastUsedAt:    sess.LastUsedAt,
			Revoked:       sess.Revoked,
			RevokedReason: sess.RevokedReason,
			Current:       sess.ID == p.SessionID,
		})
	}
	return views, nil
}

// AdminRevokeAll is the operator kill switch. The account is identified by
// phone number.
func (s *AuthService) AdminRevokeAll(ctx context.Context, rawPhone, reason string) (int64, error) {
	phone, err := parsePhone(rawPhone)
	if err != nil {
		return 0, err
	}
	user, err := s.users.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return 0, apperr.NotFound("user not found")
		}
		return 0, apperr.Dependency(err)
	}

	n, err := s.sessions.Revoke(ctx, user.ID, session.RevokeOptions{Reason: model.RevokeReasonAdmin})
	if err != nil {
		return 0, err
	}
	s.audit(ctx, RequestMeta{}, model.EventAccountLocked, user.ID, phone, user.Country, map[string]string{
		"reason":  reason,
		"revoked": strconv.FormatInt(n, 10),
	})
	s.logger.Warn("All sessions revoked by operator", util.UserID(user.ID), zap.Int64("revoked", n), zap.String("reason", reason))
	return n, nil
}

func (s *AuthService) user(ctx context.Context, p *session.Principal) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// a live session for a missing user is treated like a dead session
			return nil, apperr.ErrUnauthorized
		}
		return nil, apperr.Dependency(err)
	}
	return user, nil
}

// backupEmail decrypts the user's backup email for display. Failures are
// logged and yield an empty string.
func (s *AuthService) backupEmail(ctx context.Context, user *model.User) string {
	if user.BackupEmailEnc == "" {
		return ""
	}
	email, err := s.encryptor.DecryptString(ctx, user.BackupEmailEnc, backupEmailPurpose)
	if err != nil {
		s.logger.Warn("Failed to decrypt backup email", util.UserID(user.ID), zap.Error(err))
		return ""
	}
	return email
}

func (s *AuthService) audit(ctx context.Context, meta RequestMeta, typ model.EventType, userID, phone string, country model.Country, metadata map[string]string) {
	s.auditor.Record(ctx, model.AuditEvent{
		Type:      typ,
		UserID:    userID,
		Phone:     phone,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Country:   string(country),
		Metadata:  metadata,
	})
}
