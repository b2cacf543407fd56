package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

var userCols = []string{"id", "phone", "country", "pin_hash", "business_name", "backup_email_enc", "security_answer_hash", "tier", "created_at", "updated_at"}

func testUser() *model.User {
	now := time.Now().UTC()
	return &model.User{
		ID:                 "8d7e0f5c-5a7e-4bb6-9b61-3f7d1c2a9e10",
		Phone:              "254712345678",
		Country:            model.CountryKE,
		PINHash:            "$argon2id$v=19$m=64,t=1,p=1$c2FsdA$aGFzaA",
		BusinessName:       "Jane's Kiosk",
		SecurityAnswerHash: "abc",
		Tier:               model.TierFree,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestCreateUser(t *testing.T) {
	s, mock := newStoreWithMock(t)
	u := testUser()

	q := `(?s)^\s*INSERT\s+INTO\s+users\b.*ON\s+CONFLICT\s+DO\s+NOTHING\s*$`
	mock.ExpectExec(q).
		WithArgs(u.ID, u.Phone, "KE", u.PINHash, u.BusinessName, "", "abc", "free", u.CreatedAt, u.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreateUser(context.Background(), u))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_Duplicate(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CreateUser(context.Background(), testUser())
	assert.ErrorIs(t, err, model.ErrDuplicate)
}

func TestCreateUser_DBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	err := s.CreateUser(context.Background(), testUser())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: db down")
}

func TestGetUserByPhone(t *testing.T) {
	s, mock := newStoreWithMock(t)
	u := testUser()

	rows := sqlmock.NewRows(userCols).AddRow(u.ID, u.Phone, "KE", u.PINHash, u.BusinessName, "enc", "abc", "pro", u.CreatedAt, u.UpdatedAt)
	mock.ExpectQuery(`(?s)SELECT\s+id,.*FROM\s+users\s+WHERE\s+phone\s*=\s*\$1`).
		WithArgs(u.Phone).
		WillReturnRows(rows)

	got, err := s.GetUserByPhone(context.Background(), u.Phone)
	require.NoError(t, err)
	assert.Equal(t, model.CountryKE, got.Country)
	assert.Equal(t, model.TierPro, got.Tier)
	assert.Equal(t, "enc", got.BackupEmailEnc)
}

func TestGetUserByID_NotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByID(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdatePINHash(t *testing.T) {
	s, mock := newStoreWithMock(t)
	q := `(?s)UPDATE\s+users\s+SET\s+pin_hash\s*=\s*\$3.*WHERE\s+id\s*=\s*\$1\s+AND\s+pin_hash\s*=\s*\$2`

	mock.ExpectExec(q).
		WithArgs("u1", "old", "new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.UpdatePINHash(context.Background(), "u1", "old", "new", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(q).
		WithArgs("u1", "stale", "new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.UpdatePINHash(context.Background(), "u1", "stale", "new", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "a concurrent PIN change must not be overwritten")

	require.NoError(t, mock.ExpectationsWereMet())
}
