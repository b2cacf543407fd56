// Package session issues access tokens and refresh credentials and enforces
// the kill switch: an access token is only honoured while the session row it
// names is live in the datastore, so revoking the row invalidates the token
// on its very next use regardless of the token's own expiry.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/hashing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

const (
	minSigningKeyLen = 32
	refreshBytes     = 32
)

var ErrSigningKeyTooShort = fmt.Errorf("signing key must be at least %d bytes", minSigningKeyLen)

// Claims is the access token payload. sub is the user id, sid the session.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

type Tokens struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	SessionID    string        `json:"session_id"`
	AccessTTL    time.Duration `json:"-"`
	RefreshTTL   time.Duration `json:"-"`
}

type AccessGrant struct {
	AccessToken string        `json:"access_token"`
	SessionID   string        `json:"session_id"`
	AccessTTL   time.Duration `json:"-"`
}

// Principal is the identity behind a verified access token.
type Principal struct {
	UserID    string
	SessionID string
}

// RevokeOptions selects the revocation mode. SessionID set revokes that one
// session; ExceptSessionID set revokes every other session; neither revokes
// all of them.
type RevokeOptions struct {
	SessionID       string
	ExceptSessionID string
	Reason          string
}

type Manager struct {
	sessions   model.SessionRepository
	deny       model.SessionDenyList
	cfg        config.TokenConfig
	signingKey func() ([]byte, error)
	now        func() time.Time
	logger     *zap.Logger
}

// NewManager wires the manager. deny may be nil.
func NewManager(cfg config.TokenConfig, sessions model.SessionRepository, deny model.SessionDenyList, logger *zap.Logger) *Manager {
	raw := cfg.SigningKey
	return &Manager{
		sessions: sessions,
		deny:     deny,
		cfg:      cfg,
		signingKey: sync.OnceValues(func() ([]byte, error) {
			if len(raw) < minSigningKeyLen {
				return nil, ErrSigningKeyTooShort
			}
			return []byte(raw), nil
		}),
		now:    time.Now,
		logger: logger,
	}
}

// CreateSession stores a new session and returns its credentials. Live
// sessions already bound to the same device fingerprint are superseded.
func (m *Manager) CreateSession(ctx context.Context, userID, fingerprint, label string) (*Tokens, error) {
	key, err := m.signingKey()
	if err != nil {
		return nil, apperr.Dependency(err)
	}

	refresh, err := newRefreshCredential()
	if err != nil {
		return nil, apperr.Dependency(err)
	}

	now := m.now().UTC()
	sess := &model.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		RefreshHash:       hashing.HashToken(refresh),
		DeviceFingerprint: fingerprint,
		DeviceLabel:       label,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.cfg.RefreshTTL),
	}

	superseded, err := m.sessions.CreateDeviceSession(ctx, sess, model.RevokeReasonSuperseded)
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	if len(superseded) > 0 {
		m.logger.Info("Superseded device sessions",
			util.UserID(userID),
			zap.Strings("session_ids", superseded))
		m.denySessions(ctx, superseded)
	}

	access, err := m.mint(key, userID, sess.ID, now)
	if err != nil {
		return nil, apperr.Dependency(err)
	}

	return &Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sess.ID,
		AccessTTL:    m.cfg.AccessTTL,
		RefreshTTL:   m.cfg.RefreshTTL,
	}, nil
}

// VerifyAccess checks the token signature and then the session row. Every
// failure collapses into apperr.ErrUnauthorized.
func (m *Manager) VerifyAccess(ctx context.Context, token string) (*Principal, error) {
	key, err := m.signingKey()
	if err != nil {
		m.logger.Error("Signing key unavailable", zap.Error(err))
		return nil, apperr.ErrUnauthorized
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, apperr.ErrUnauthorized
	}

	if m.deny != nil {
		denied, err := m.deny.IsDenied(ctx, claims.SessionID)
		if err != nil {
			m.logger.Warn("Deny list lookup failed", util.SessionID(claims.SessionID), zap.Error(err))
		} else if denied {
			return nil, apperr.ErrUnauthorized
		}
	}

	now := m.now().UTC()
	sess, err := m.sessions.GetActiveSession(ctx, claims.SessionID, claims.Subject, now)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			m.logger.Error("Session lookup failed", util.SessionID(claims.SessionID), zap.Error(err))
		}
		return nil, apperr.ErrUnauthorized
	}

	m.touch(ctx, sess.ID, sess.UserID, now)
	return &Principal{UserID: sess.UserID, SessionID: sess.ID}, nil
}

// Refresh mints a new access token for the live session holding the refresh
// credential. The refresh credential itself is not rotated.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*AccessGrant, error) {
	if refreshToken == "" {
		return nil, apperr.ErrUnauthorized
	}
	key, err := m.signingKey()
	if err != nil {
		return nil, apperr.Dependency(err)
	}

	now := m.now().UTC()
	sess, err := m.sessions.GetActiveSessionByRefreshHash(ctx, hashing.HashToken(refreshToken), now)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, apperr.ErrUnauthorized
		}
		return nil, apperr.Dependency(err)
	}

	access, err := m.mint(key, sess.UserID, sess.ID, now)
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	m.touch(ctx, sess.ID, sess.UserID, now)

	return &AccessGrant{AccessToken: access, SessionID: sess.ID, AccessTTL: m.cfg.AccessTTL}, nil
}

// Revoke flips matching live sessions to revoked and returns how many it
// changed. Rows are never deleted.
func (m *Manager) Revoke(ctx context.Context, userID string, opts RevokeOptions) (int64, error) {
	if opts.SessionID != "" && opts.ExceptSessionID != "" {
		return 0, apperr.Validation("session_id and except_session_id are mutually exclusive")
	}

	now := m.now().UTC()
	var (
		ids []string
		err error
	)
	switch {
	case opts.SessionID != "":
		ids, err = m.sessions.RevokeSession(ctx, userID, opts.SessionID, reasonOr(opts.Reason, model.RevokeReasonLogout), now)
	case opts.ExceptSessionID != "":
		ids, err = m.sessions.RevokeOtherSessions(ctx, userID, opts.ExceptSessionID, reasonOr(opts.Reason, model.RevokeReasonOthers), now)
	default:
		ids, err = m.sessions.RevokeAllSessions(ctx, userID, reasonOr(opts.Reason, model.RevokeReasonLogoutAll), now)
	}
	if err != nil {
		return 0, apperr.Dependency(err)
	}

	m.denySessions(ctx, ids)
	return int64(len(ids)), nil
}

func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	sessions, err := m.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	return sessions, nil
}

func (m *Manager) mint(key []byte, userID, sessionID string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTTL)),
			ID:        uuid.NewString(),
		},
		SessionID: sessionID,
	})
	return token.SignedString(key)
}

func (m *Manager) touch(ctx context.Context, sessionID, userID string, at time.Time) {
	if err := m.sessions.TouchSession(ctx, sessionID, userID, at); err != nil {
		m.logger.Warn("Failed to update session last_used_at", util.SessionID(sessionID), zap.Error(err))
	}
}

// denySessions is best effort; the datastore check stays authoritative.
func (m *Manager) denySessions(ctx context.Context, ids []string) {
	if m.deny == nil || len(ids) == 0 {
		return
	}
	if err := m.deny.DenySessions(ctx, ids, m.cfg.AccessTTL); err != nil {
		m.logger.Warn("Failed to push revoked sessions to deny list", zap.Int("count", len(ids)), zap.Error(err))
	}
}

func newRefreshCredential() (string, error) {
	b := make([]byte, refreshBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
