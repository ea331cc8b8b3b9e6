package auth

import "context"

// CredentialStore describes the persistence operations the auth core depends on.
//
// Lookups return ErrNotFound when no record matches. Create and Update return
// ErrAlreadyExists when the username or email is taken. Any other error is treated
// as a dependency failure.
type CredentialStore interface {
	FindByHandle(ctx context.Context, handle string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, id string) error
}
