package model

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// -------------------- REPOSITORY INTERFACES --------------------

// UserRepository stores the identity root.
type UserRepository interface {
	// CreateUser returns ErrDuplicate when the phone is already registered.
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByPhone(ctx context.Context, phone string) (*User, error)
	// UpdatePINHash swaps the hash only if the stored value still equals
	// oldHash. It reports whether the row changed.
	UpdatePINHash(ctx context.Context, userID, oldHash, newHash string, at time.Time) (bool, error)
}

// SessionRepository is the backing store of the kill switch. Revocation
// methods are conditional updates on revoked = false and return the ids of
// the sessions they flipped.
type SessionRepository interface {
	// CreateDeviceSession revokes the user's live sessions carrying the same
	// device fingerprint, then inserts session. Backends with transactions do
	// both atomically.
	CreateDeviceSession(ctx context.Context, session *Session, supersedeReason string) ([]string, error)
	GetActiveSession(ctx context.Context, sessionID, userID string, now time.Time) (*Session, error)
	GetActiveSessionByRefreshHash(ctx context.Context, refreshHash string, now time.Time) (*Session, error)
	TouchSession(ctx context.Context, sessionID, userID string, at time.Time) error
	RevokeSession(ctx context.Context, userID, sessionID, reason string, at time.Time) ([]string, error)
	RevokeOtherSessions(ctx context.Context, userID, exceptSessionID, reason string, at time.Time) ([]string, error)
	RevokeAllSessions(ctx context.Context, userID, reason string, at time.Time) ([]string, error)
	ListSessions(ctx context.Context, userID string) ([]*Session, error)
}

// VerificationCodeRepository holds locally issued one-time codes and the
// marker rows of provider-held codes.
type VerificationCodeRepository interface {
	CreateCode(ctx context.Context, code *VerificationCode) error
	// GetLatestActiveCode returns the newest unconsumed, unexpired record
	// for (identifier, purpose), or ErrNotFound.
	GetLatestActiveCode(ctx context.Context, identifier string, purpose Purpose, now time.Time) (*VerificationCode, error)
	// ConsumeCode flips used from false to true. Only one caller can win.
	ConsumeCode(ctx context.Context, code *VerificationCode, at time.Time) (bool, error)
}

type AuditRepository interface {
	InsertEvent(ctx context.Context, event *AuditEvent) error
}

// Store is a complete datastore backend.
type Store interface {
	UserRepository
	SessionRepository
	VerificationCodeRepository
	AuditRepository
	Ping(ctx context.Context) error
	Close() error
}

// -------------------- CACHE INTERFACES --------------------

// RecoveryStateStore tracks the account-recovery state machine per phone.
// A missing entry reads as RecoveryNotStarted.
type RecoveryStateStore interface {
	GetRecoveryState(ctx context.Context, phone string) (RecoveryState, error)
	SetRecoveryState(ctx context.Context, phone string, state RecoveryState, ttl time.Duration) error
	ClearRecoveryState(ctx context.Context, phone string) error
}

// SessionDenyList is an optional fast-fail cache of revoked session ids.
// It never replaces the datastore check.
type SessionDenyList interface {
	DenySessions(ctx context.Context, sessionIDs []string, ttl time.Duration) error
	IsDenied(ctx context.Context, sessionID string) (bool, error)
}
