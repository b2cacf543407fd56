package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

const userColumns = `id, phone, country, pin_hash, business_name, backup_email_enc, security_answer_hash, tier, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`
	res, err := s.q.ExecContext(ctx, query,
		u.ID, u.Phone, string(u.Country), u.PINHash, u.BusinessName,
		u.BackupEmailEnc, u.SecurityAnswerHash, string(u.Tier), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return model.ErrDuplicate
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.q.QueryRowContext(ctx, query, userID))
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(s.q.QueryRowContext(ctx, query, phone))
}

func (s *Store) UpdatePINHash(ctx context.Context, userID, oldHash, newHash string, at time.Time) (bool, error) {
	query := `
		UPDATE users
		SET pin_hash = $3, updated_at = $4
		WHERE id = $1 AND pin_hash = $2
	`
	res, err := s.q.ExecContext(ctx, query, userID, oldHash, newHash, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u       model.User
		country string
		tier    string
	)
	err := row.Scan(&u.ID, &u.Phone, &country, &u.PINHash, &u.BusinessName,
		&u.BackupEmailEnc, &u.SecurityAnswerHash, &tier, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.Country = model.Country(country)
	u.Tier = model.Tier(tier)
	return &u, nil
}
