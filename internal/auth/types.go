package auth

import "time"

// User is an account record as held by the credential store.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsAdmin      bool      `json:"is_admin"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// VerifySecret compares plaintext against the stored bcrypt hash.
func (u User) VerifySecret(plaintext string) bool {
	return VerifyPassword(u.PasswordHash, plaintext) == nil
}

// Public returns a copy of the user with secret material removed.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// NewUser carries the fields required to register an account.
type NewUser struct {
	Username string
	Email    string
	Password string
	IsAdmin  bool
}

// UserUpdate lists optional changes to an account. Nil fields are left untouched.
// Password holds plaintext until the account service replaces it with a hash.
type UserUpdate struct {
	Username *string
	Email    *string
	Password *string
	IsAdmin  *bool
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.Password == nil && u.IsAdmin == nil
}

// Token is a signed session credential together with its metadata.
type Token struct {
	Value     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
