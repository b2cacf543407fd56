// Package memory is an in-process datastore for development and tests. A
// single mutex stands in for the row-level atomicity of the real backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

var _ model.Store = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	users    map[string]*model.User
	byPhone  map[string]string
	sessions map[string]*model.Session
	codes    []*model.VerificationCode
	events   []*model.AuditEvent
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		byPhone:  make(map[string]string),
		sessions: make(map[string]*model.Session),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// -------------------- USERS --------------------

func (s *Store) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPhone[u.Phone]; ok {
		return model.ErrDuplicate
	}
	if _, ok := s.users[u.ID]; ok {
		return model.ErrDuplicate
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byPhone[u.Phone] = u.ID
	return nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByPhone(_ context.Context, phone string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) UpdatePINHash(_ context.Context, userID, oldHash, newHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.PINHash != oldHash {
		return false, nil
	}
	u.PINHash = newHash
	u.UpdatedAt = at
	return true, nil
}

// SetTier changes a user's subscription tier. Billing owns tiers; this
// exists for local setups and tests.
func (s *Store) SetTier(userID string, tier model.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Tier = tier
	}
}

// -------------------- SESSIONS --------------------

func (s *Store) CreateDeviceSession(_ context.Context, sess *model.Session, supersedeReason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return nil, model.ErrDuplicate
	}
	var superseded []string
	if sess.DeviceFingerprint != "" {
		superseded = s.revokeWhere(sess.UserID, supersedeReason, sess.CreatedAt, func(o *model.Session) bool {
			return o.DeviceFingerprint == sess.DeviceFingerprint
		})
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return superseded, nil
}

func (s *Store) GetActiveSession(_ context.Context, sessionID, userID string, now time.Time) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID || !sess.Active(now) {
		return nil, model.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) GetActiveSessionByRefreshHash(_ context.Context, refreshHash string, now time.Time) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.RefreshHash == refreshHash && sess.Active(now) {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *Store) TouchSession(_ context.Context, sessionID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok && sess.UserID == userID && !sess.Revoked {
		t := at
		sess.LastUsedAt = &t
	}
	return nil
}

func (s *Store) RevokeSession(_ context.Context, userID, sessionID, reason string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(userID, reason, at, func(o *model.Session) bool { return o.ID == sessionID }), nil
}

func (s *Store) RevokeOtherSessions(_ context.Context, userID, exceptSessionID, reason string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(userID, reason, at, func(o *model.Session) bool { return o.ID != exceptSessionID }), nil
}

func (s *Store) RevokeAllSessions(_ context.Context, userID, reason string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(userID, reason, at, func(*model.Session) bool { return true }), nil
}

// revokeWhere must be called with mu held.
func (s *Store) revokeWhere(userID, reason string, at time.Time, match func(*model.Session) bool) []string {
	var ids []string
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Revoked || !match(sess) {
			continue
		}
		t := at
		sess.Revoked = true
		sess.RevokedReason = reason
		sess.RevokedAt = &t
		ids = append(ids, sess.ID)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) ListSessions(_ context.Context, userID string) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// -------------------- VERIFICATION CODES --------------------

func (s *Store) CreateCode(_ context.Context, c *model.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.codes = append(s.codes, &cp)
	return nil
}

func (s *Store) GetLatestActiveCode(_ context.Context, identifier string, purpose model.Purpose, now time.Time) (*model.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.VerificationCode
	for _, c := range s.codes {
		if c.Identifier != identifier || c.Purpose != purpose || !c.Usable(now) {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, model.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) ConsumeCode(_ context.Context, c *model.VerificationCode, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.codes {
		if stored.ID != c.ID {
			continue
		}
		if stored.Used {
			return false, nil
		}
		t := at
		stored.Used = true
		stored.UsedAt = &t
		return true, nil
	}
	return false, nil
}

// -------------------- AUDIT --------------------

func (s *Store) InsertEvent(_ context.Context, e *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// Events returns a snapshot of recorded audit events, oldest first.
func (s *Store) Events() []model.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditEvent, len(s.events))
	for i, e := range s.events {
		out[i] = *e
	}
	return out
}
