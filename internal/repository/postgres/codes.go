package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

func (s *Store) CreateCode(ctx context.Context, c *model.VerificationCode) error {
	query := `
		INSERT INTO verification_codes (id, identifier, purpose, code, channel, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.ExecContext(ctx, query,
		c.ID, c.Identifier, string(c.Purpose), c.Code, string(c.Channel), c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) GetLatestActiveCode(ctx context.Context, identifier string, purpose model.Purpose, now time.Time) (*model.VerificationCode, error) {
	query := `
		SELECT id, identifier, purpose, code, channel, expires_at, used, used_at, created_at
		FROM verification_codes
		WHERE identifier = $1 AND purpose = $2 AND used = FALSE AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		c       model.VerificationCode
		purp    string
		channel string
		usedAt  sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, query, identifier, string(purpose), now).
		Scan(&c.ID, &c.Identifier, &purp, &c.Code, &channel, &c.ExpiresAt, &c.Used, &usedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Purpose = model.Purpose(purp)
	c.Channel = model.Channel(channel)
	c.UsedAt = nullTime(usedAt)
	return &c, nil
}

func (s *Store) ConsumeCode(ctx context.Context, c *model.VerificationCode, at time.Time) (bool, error) {
	query := `
		UPDATE verification_codes
		SET used = TRUE, used_at = $2
		WHERE id = $1 AND used = FALSE
	`
	res, err := s.q.ExecContext(ctx, query, c.ID, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}
