package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sesame.dev/internal/auth"
	"sesame.dev/internal/ids"
)

const userColumns = `id, username, email, password_hash, is_admin, created_at, updated_at`

// UserStore implements auth.CredentialStore against the users table. Username
// and email uniqueness is enforced by unique indexes.
type UserStore struct {
	db *sql.DB
}

var _ auth.CredentialStore = (*UserStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) findOne(ctx context.Context, op, where string, arg any) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+where, arg)
	u, err := scanUser(row)
	if err != nil {
		return nil, classify(op, err)
	}
	return u, nil
}

// FindByHandle matches a username exactly or an email case-insensitively.
// Usernames cannot contain '@' so at most one row matches.
func (s *UserStore) FindByHandle(ctx context.Context, handle string) (*auth.User, error) {
	return s.findOne(ctx, "find user by handle", `username = $1 or email = lower($1) limit 1`, handle)
}

func (s *UserStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findOne(ctx, "find user by username", `username = $1`, username)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, "find user by email", `email = $1`, strings.ToLower(email))
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findOne(ctx, "find user by id", `id = $1`, id)
}

func (s *UserStore) List(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by username`)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("scan user", err)
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list users", err)
	}
	return result, nil
}

func (s *UserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, classify("count users", err)
	}
	return n, nil
}

func (s *UserStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(u.Email)
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, username, email, password_hash, is_admin)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.IsAdmin).Scan(&u.CreatedAt, &u.UpdatedAt)
	return classify("create user", err)
}

// Update applies upd in a single statement so uniqueness violations leave the
// row untouched.
func (s *UserStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	if upd.Empty() {
		return s.FindByID(ctx, id)
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	add := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Username != nil {
		add("username", *upd.Username)
	}
	if upd.Email != nil {
		add("email", strings.ToLower(*upd.Email))
	}
	if upd.Password != nil {
		add("password_hash", *upd.Password)
	}
	if upd.IsAdmin != nil {
		add("is_admin", *upd.IsAdmin)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`,
		strings.Join(setClauses, ", "), idx, userColumns)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, classify("update user", err)
	}
	return u, nil
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return classify("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete user", err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
