package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zwoods58/WebApp-sub006/internal/dbx"
	"github.com/zwoods58/WebApp-sub006/internal/model"
)

const sessionColumns = `id, user_id, refresh_hash, device_fingerprint, device_label, created_at, expires_at, revoked, revoked_reason, revoked_at, last_used_at`

func (s *Store) CreateDeviceSession(ctx context.Context, sess *model.Session, supersedeReason string) ([]string, error) {
	var superseded []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if sess.DeviceFingerprint != "" {
			rows, err := tx.QueryContext(ctx, `
				UPDATE sessions
				SET revoked = TRUE, revoked_reason = $3, revoked_at = $4
				WHERE user_id = $1 AND device_fingerprint = $2 AND revoked = FALSE
				RETURNING id
			`, sess.UserID, sess.DeviceFingerprint, supersedeReason, sess.CreatedAt)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			if superseded, err = collectIDs(rows); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, refresh_hash, device_fingerprint, device_label, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sess.ID, sess.UserID, sess.RefreshHash, sess.DeviceFingerprint, sess.DeviceLabel, sess.CreatedAt, sess.ExpiresAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (s *Store) GetActiveSession(ctx context.Context, sessionID, userID string, now time.Time) (*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1 AND user_id = $2 AND revoked = FALSE AND expires_at > $3
	`
	return scanSession(s.q.QueryRowContext(ctx, query, sessionID, userID, now))
}

func (s *Store) GetActiveSessionByRefreshHash(ctx context.Context, refreshHash string, now time.Time) (*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE refresh_hash = $1 AND revoked = FALSE AND expires_at > $2
	`
	return scanSession(s.q.QueryRowContext(ctx, query, refreshHash, now))
}

func (s *Store) TouchSession(ctx context.Context, sessionID, userID string, at time.Time) error {
	query := `
		UPDATE sessions
		SET last_used_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked = FALSE
	`
	if _, err := s.q.ExecContext(ctx, query, sessionID, userID, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, userID, sessionID, reason string, at time.Time) ([]string, error) {
	return s.revoke(ctx, `
		UPDATE sessions
		SET revoked = TRUE, revoked_reason = $3, revoked_at = $4
		WHERE user_id = $1 AND id = $2 AND revoked = FALSE
		RETURNING id
	`, userID, sessionID, reason, at)
}

func (s *Store) RevokeOtherSessions(ctx context.Context, userID, exceptSessionID, reason string, at time.Time) ([]string, error) {
	return s.revoke(ctx, `
		UPDATE sessions
		SET revoked = TRUE, revoked_reason = $3, revoked_at = $4
		WHERE user_id = $1 AND id <> $2 AND revoked = FALSE
		RETURNING id
	`, userID, exceptSessionID, reason, at)
}

func (s *Store) RevokeAllSessions(ctx context.Context, userID, reason string, at time.Time) ([]string, error) {
	return s.revoke(ctx, `
		UPDATE sessions
		SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE user_id = $1 AND revoked = FALSE
		RETURNING id
	`, userID, reason, at)
}

func (s *Store) revoke(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collectIDs(rows)
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return sessions, nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		sess      model.Session
		revokedAt sql.NullTime
		lastUsed  sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &sess.DeviceFingerprint, &sess.DeviceLabel,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.Revoked, &sess.RevokedReason, &revokedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	sess.RevokedAt = nullTime(revokedAt)
	sess.LastUsedAt = nullTime(lastUsed)
	return &sess, nil
}
