package scylla

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/bucketing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

// Store implements model.Store on ScyllaDB. Uniqueness and single-use
// guarantees rely on lightweight transactions (IF NOT EXISTS / IF col = ?).
type Store struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

var _ model.Store = (*Store)(nil)

func NewStore(client *ScyllaClient, buckets *bucketing.BucketingManager) *Store {
	return &Store{client: client, buckets: buckets}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// -------------------- USERS --------------------

const userColumns = `user_id, phone, country, pin_hash, business_name, backup_email_enc, security_answer_hash, tier, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	applied, err := s.client.Query(ctx,
		`INSERT INTO users_by_phone (phone, user_id) VALUES (?, ?) IF NOT EXISTS`,
		user.Phone, user.ID,
	).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !applied {
		return model.ErrDuplicate
	}

	err = s.client.Query(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Phone, string(user.Country), user.PINHash, user.BusinessName,
		user.BackupEmailEnc, user.SecurityAnswerHash, string(user.Tier), user.CreatedAt, user.UpdatedAt,
	).Exec()
	if err != nil {
		// release the phone claim so the number can register again
		if delErr := s.client.Query(ctx,
			`DELETE FROM users_by_phone WHERE phone = ? IF user_id = ?`, user.Phone, user.ID,
		).Exec(); delErr != nil {
			util.Error("Failed to release phone claim", util.MaskPhone(user.Phone), zap.Error(delErr))
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	var (
		u       model.User
		country string
		tier    string
	)
	err := s.client.Query(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID).Scan(
		&u.ID, &u.Phone, &country, &u.PINHash, &u.BusinessName,
		&u.BackupEmailEnc, &u.SecurityAnswerHash, &tier, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	u.Country = model.Country(country)
	u.Tier = model.Tier(tier)
	return &u, nil
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	var userID string
	if err := s.client.Query(ctx, `SELECT user_id FROM users_by_phone WHERE phone = ?`, phone).Scan(&userID); err != nil {
		return nil, notFound(err)
	}
	return s.GetUserByID(ctx, userID)
}

func (s *Store) UpdatePINHash(ctx context.Context, userID, oldHash, newHash string, at time.Time) (bool, error) {
	applied, err := s.client.Query(ctx,
		`UPDATE users SET pin_hash = ?, updated_at = ? WHERE user_id = ? IF pin_hash = ?`,
		newHash, at, userID, oldHash,
	).MapScanCAS(map[string]any{})
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return applied, nil
}

// -------------------- SESSIONS --------------------

const sessionColumns = `session_id, user_id, refresh_hash, device_fingerprint, device_label, created_at, expires_at, revoked, revoked_reason, revoked_at, last_used_at`

func (s *Store) CreateDeviceSession(ctx context.Context, sess *model.Session, supersedeReason string) ([]string, error) {
	var superseded []string
	if sess.DeviceFingerprint != "" {
		ids, err := s.revokeMatching(ctx, sess.UserID, supersedeReason, sess.CreatedAt, func(existing *model.Session) bool {
			return existing.DeviceFingerprint == sess.DeviceFingerprint
		})
		if err != nil {
			return nil, err
		}
		superseded = ids
	}

	batch := s.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, false, '', null, null)`,
		sess.ID, sess.UserID, sess.RefreshHash, sess.DeviceFingerprint, sess.DeviceLabel, sess.CreatedAt, sess.ExpiresAt)
	batch.Query(`INSERT INTO sessions_by_refresh (refresh_hash, user_id, session_id) VALUES (?, ?, ?)`,
		sess.RefreshHash, sess.UserID, sess.ID)
	if err := s.client.Session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return superseded, nil
}

func (s *Store) getSession(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	iter := s.client.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID,
	).Iter()
	sess, ok := scanSession(iter)
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if !ok {
		return nil, model.ErrNotFound
	}
	return sess, nil
}

func (s *Store) GetActiveSession(ctx context.Context, sessionID, userID string, now time.Time) (*model.Session, error) {
	sess, err := s.getSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Active(now) {
		return nil, model.ErrNotFound
	}
	return sess, nil
}

func (s *Store) GetActiveSessionByRefreshHash(ctx context.Context, refreshHash string, now time.Time) (*model.Session, error) {
	var userID, sessionID string
	err := s.client.Query(ctx,
		`SELECT user_id, session_id FROM sessions_by_refresh WHERE refresh_hash = ?`, refreshHash,
	).Scan(&userID, &sessionID)
	if err != nil {
		return nil, notFound(err)
	}
	return s.GetActiveSession(ctx, sessionID, userID, now)
}

func (s *Store) TouchSession(ctx context.Context, sessionID, userID string, at time.Time) error {
	err := s.client.Query(ctx,
		`UPDATE sessions SET last_used_at = ? WHERE user_id = ? AND session_id = ?`, at, userID, sessionID,
	).Exec()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, userID, sessionID, reason string, at time.Time) ([]string, error) {
	applied, err := s.revokeOne(ctx, userID, sessionID, reason, at)
	if err != nil || !applied {
		return nil, err
	}
	return []string{sessionID}, nil
}

func (s *Store) RevokeOtherSessions(ctx context.Context, userID, exceptSessionID, reason string, at time.Time) ([]string, error) {
	return s.revokeMatching(ctx, userID, reason, at, func(existing *model.Session) bool {
		return existing.ID != exceptSessionID
	})
}

func (s *Store) RevokeAllSessions(ctx context.Context, userID, reason string, at time.Time) ([]string, error) {
	return s.revokeMatching(ctx, userID, reason, at, func(*model.Session) bool { return true })
}

// revokeMatching flips every live session in the user's partition accepted
// by match. Each flip is its own LWT so a concurrent revoke of one row
// neither blocks nor duplicates the others.
func (s *Store) revokeMatching(ctx context.Context, userID, reason string, at time.Time, match func(*model.Session) bool) ([]string, error) {
	sessions, err := s.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var revoked []string
	for _, sess := range sessions {
		if sess.Revoked || !match(sess) {
			continue
		}
		applied, err := s.revokeOne(ctx, userID, sess.ID, reason, at)
		if err != nil {
			return revoked, err
		}
		if applied {
			revoked = append(revoked, sess.ID)
		}
	}
	return revoked, nil
}

func (s *Store) revokeOne(ctx context.Context, userID, sessionID, reason string, at time.Time) (bool, error) {
	applied, err := s.client.Query(ctx,
		`UPDATE sessions SET revoked = true, revoked_reason = ?, revoked_at = ? WHERE user_id = ? AND session_id = ? IF revoked = false`,
		reason, at, userID, sessionID,
	).MapScanCAS(map[string]any{})
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return applied, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	iter := s.client.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ?`, userID).Iter()
	var sessions []*model.Session
	for {
		sess, ok := scanSession(iter)
		if !ok {
			break
		}
		sessions = append(sessions, sess)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	sortSessionsNewestFirst(sessions)
	return sessions, nil
}

func scanSession(iter *gocql.Iter) (*model.Session, bool) {
	var (
		sess      model.Session
		revokedAt time.Time
		lastUsed  time.Time
	)
	ok := iter.Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &sess.DeviceFingerprint, &sess.DeviceLabel,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.Revoked, &sess.RevokedReason, &revokedAt, &lastUsed)
	if !ok {
		return nil, false
	}
	sess.RevokedAt = optionalTime(revokedAt)
	sess.LastUsedAt = optionalTime(lastUsed)
	return &sess, true
}

// -------------------- VERIFICATION CODES --------------------

const codeColumns = `id, identifier, purpose, code, channel, expires_at, used, used_at, created_at`

// latestCodeScan bounds how many superseded rows GetLatestActiveCode walks.
const latestCodeScan = 20

// CreateCode truncates CreatedAt to milliseconds, the precision of a CQL
// timestamp, since it is part of the row key ConsumeCode addresses.
func (s *Store) CreateCode(ctx context.Context, code *model.VerificationCode) error {
	code.CreatedAt = code.CreatedAt.Truncate(time.Millisecond)
	err := s.client.Query(ctx,
		`INSERT INTO verification_codes (`+codeColumns+`) VALUES (?, ?, ?, ?, ?, ?, false, null, ?)`,
		code.ID, code.Identifier, string(code.Purpose), code.Code, string(code.Channel), code.ExpiresAt, code.CreatedAt,
	).Exec()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) GetLatestActiveCode(ctx context.Context, identifier string, purpose model.Purpose, now time.Time) (*model.VerificationCode, error) {
	iter := s.client.Query(ctx,
		`SELECT `+codeColumns+` FROM verification_codes WHERE identifier = ? AND purpose = ? LIMIT ?`,
		identifier, string(purpose), latestCodeScan,
	).Iter()

	var found *model.VerificationCode
	for {
		var (
			c      model.VerificationCode
			p, ch  string
			usedAt time.Time
		)
		if !iter.Scan(&c.ID, &c.Identifier, &p, &c.Code, &ch, &c.ExpiresAt, &c.Used, &usedAt, &c.CreatedAt) {
			break
		}
		c.Purpose = model.Purpose(p)
		c.Channel = model.Channel(ch)
		c.UsedAt = optionalTime(usedAt)
		if c.Usable(now) {
			found = &c
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if found == nil {
		return nil, model.ErrNotFound
	}
	return found, nil
}

func (s *Store) ConsumeCode(ctx context.Context, code *model.VerificationCode, at time.Time) (bool, error) {
	applied, err := s.client.Query(ctx,
		`UPDATE verification_codes SET used = true, used_at = ?
		 WHERE identifier = ? AND purpose = ? AND created_at = ? AND id = ? IF used = false`,
		at, code.Identifier, string(code.Purpose), code.CreatedAt, code.ID,
	).MapScanCAS(map[string]any{})
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return applied, nil
}

// -------------------- AUDIT --------------------

func (s *Store) InsertEvent(ctx context.Context, event *model.AuditEvent) error {
	assignment := s.buckets.AssignEvent(event.UserID, event.ID, event.CreatedAt)
	err := s.client.Query(ctx,
		`INSERT INTO security_events (event_date, event_bucket, created_at, id, event_type, user_id, phone, ip, user_agent, country, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assignment.DateBucket, assignment.EventBucket, event.CreatedAt, event.ID, string(event.Type),
		event.UserID, event.Phone, event.IP, event.UserAgent, event.Country, event.Metadata,
	).Exec()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// -------------------- HELPERS --------------------

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return model.ErrNotFound
	}
	return fmt.Errorf("db error: %w", err)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func sortSessionsNewestFirst(sessions []*model.Session) {
	slices.SortFunc(sessions, func(a, b *model.Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
