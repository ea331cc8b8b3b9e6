package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sesame.dev/internal/auth"
)

func TestRevokeUpsertsUntilExpiry(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := store.Revocations().WithClock(func() time.Time { return now })

	mock.ExpectExec(`(?s)insert into revoked_tokens \(token_key, expires_at\).*on conflict \(token_key\) do update`).
		WithArgs("k1", now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, reg.Revoke(context.Background(), "k1", now.Add(time.Hour)))
}

func TestRevokeSkipsExpiredTokens(t *testing.T) {
	store, _ := newMockStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := store.Revocations().WithClock(func() time.Time { return now })

	require.NoError(t, reg.Revoke(context.Background(), "k1", now.Add(-time.Second)))
	assert.ErrorIs(t, reg.Revoke(context.Background(), "", now.Add(time.Hour)), auth.ErrInvalidInput)
}

func TestIsRevoked(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := store.Revocations().WithClock(func() time.Time { return now })
	q := `select expires_at from revoked_tokens where token_key = \$1`

	mock.ExpectQuery(q).WithArgs("live").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(now.Add(time.Minute)))
	mock.ExpectQuery(q).WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(now.Add(-time.Minute)))
	mock.ExpectQuery(q).WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q).WithArgs("broken").
		WillReturnError(errors.New("timeout"))

	revoked, err := reg.IsRevoked(context.Background(), "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = reg.IsRevoked(context.Background(), "stale")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = reg.IsRevoked(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = reg.IsRevoked(context.Background(), "broken")
	assert.ErrorIs(t, err, auth.ErrUnavailable)
}

func TestPruneDeletesExpiredRows(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 500, time.UTC)

	mock.ExpectExec(`delete from revoked_tokens where expires_at < \$1`).
		WithArgs(now.Truncate(time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Revocations().Prune(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
