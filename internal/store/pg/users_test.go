package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sesame.dev/internal/auth"
)

var userCols = []string{"id", "username", "email", "password_hash", "is_admin", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func TestFindByHandleMatchesUsernameOrEmail(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`(?s)select id, username, email, password_hash, is_admin, created_at, updated_at from users where username = \$1 or email = lower\(\$1\) limit 1`).
		WithArgs("Alice@Example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u-1", "alice", "alice@example.com", "hash", false, ts, ts))

	u, err := store.Users().FindByHandle(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "hash", u.PasswordHash)
	assert.Equal(t, ts, u.CreatedAt)
}

func TestFindByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`from users where id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users().FindByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestFindByEmailLowercases(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`from users where email = \$1`).
		WithArgs("bob@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users().FindByEmail(context.Background(), "BOB@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestDriverErrorsAreUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`from users where username = \$1`).
		WithArgs("alice").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Users().FindByUsername(context.Background(), "alice")
	assert.ErrorIs(t, err, auth.ErrUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)insert into users \(id, username, email, password_hash, is_admin\)\s+values \(\$1, \$2, \$3, \$4, \$5\)\s+returning created_at, updated_at`).
		WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", "hash", true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(ts, ts))

	u := &auth.User{Username: "alice", Email: "Alice@Example.com", PasswordHash: "hash", IsAdmin: true}
	require.NoError(t, store.Users().Create(context.Background(), u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, ts, u.CreatedAt)
	assert.Equal(t, ts, u.UpdatedAt)
}

func TestCreateUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Users().Create(context.Background(), &auth.User{Username: "alice", Email: "a@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, auth.ErrAlreadyExists)
}

func TestUpdateBuildsSingleStatement(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	query := regexp.QuoteMeta(`update users set username = $1, is_admin = $2, updated_at = now() where id = $3 returning id, username, email, password_hash, is_admin, created_at, updated_at`)
	mock.ExpectQuery(query).
		WithArgs("alicia", true, "u-1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u-1", "alicia", "alice@example.com", "hash", true, ts, ts))

	name, admin := "alicia", true
	u, err := store.Users().Update(context.Background(), "u-1", auth.UserUpdate{Username: &name, IsAdmin: &admin})
	require.NoError(t, err)
	assert.Equal(t, "alicia", u.Username)
	assert.True(t, u.IsAdmin)
}

func TestUpdateConflictAndMissing(t *testing.T) {
	store, mock := newMockStore(t)
	email := "taken@example.com"

	mock.ExpectQuery(`update users set email = \$1`).
		WithArgs(email, "u-1").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	_, err := store.Users().Update(context.Background(), "u-1", auth.UserUpdate{Email: &email})
	assert.ErrorIs(t, err, auth.ErrAlreadyExists)

	mock.ExpectQuery(`update users set email = \$1`).
		WithArgs(email, "u-2").
		WillReturnError(sql.ErrNoRows)
	_, err = store.Users().Update(context.Background(), "u-2", auth.UserUpdate{Email: &email})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestDeleteReportsMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`delete from users where id = \$1`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from users where id = \$1`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Users().Delete(context.Background(), "u-1"))
	assert.ErrorIs(t, store.Users().Delete(context.Background(), "u-1"), auth.ErrNotFound)
}

func TestListAndCount(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from users order by username`).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u-1", "alice", "alice@example.com", "h1", true, ts, ts).
			AddRow("u-2", "bob", "bob@example.com", "h2", false, ts, ts))
	mock.ExpectQuery(`select count\(\*\) from users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	users, err := store.Users().List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1].Username)

	n, err := store.Users().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
