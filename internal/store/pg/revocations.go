package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sesame.dev/internal/auth"
)

// RevocationStore implements auth.RevocationRegistry on the revoked_tokens table
// so revocations are shared by every instance behind the same database.
type RevocationStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.RevocationRegistry = (*RevocationStore)(nil)

// WithClock replaces the clock used for expiry comparisons.
func (s *RevocationStore) WithClock(now func() time.Time) *RevocationStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *RevocationStore) Revoke(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("%w: revocation key is required", auth.ErrInvalidInput)
	}
	if s.now().Unix() > expiresAt.Unix() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		insert into revoked_tokens (token_key, expires_at)
		values ($1, $2)
		on conflict (token_key) do update
		set expires_at = greatest(revoked_tokens.expires_at, excluded.expires_at)
	`, key, expiresAt.UTC())
	if err != nil {
		return classify("revoke token", err)
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, key string) (bool, error) {
	var exp time.Time
	err := s.db.QueryRowContext(ctx, `select expires_at from revoked_tokens where token_key = $1`, key).Scan(&exp)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("check revocation", err)
	}
	return s.now().Unix() <= exp.Unix(), nil
}

// Prune deletes rows whose expiry is before now and returns how many went.
func (s *RevocationStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from revoked_tokens where expires_at < $1`, now.UTC().Truncate(time.Second))
	if err != nil {
		return 0, classify("prune revocations", err)
	}
	return res.RowsAffected()
}

// Run prunes on every tick until ctx is cancelled. Failures are reported to
// onError, which may be nil.
func (s *RevocationStore) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, s.now()); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
