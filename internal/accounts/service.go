// Package accounts implements account registration and management on top of the
// credential store, gated by the authorization policy.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"sesame.dev/internal/auth"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

// Service manages user accounts. Every mutating call takes the acting user
// explicitly; nothing is read from request-scoped state.
type Service struct {
	store    auth.CredentialStore
	policy   auth.Policy
	hashCost int
}

// Option configures Service behavior.
type Option func(*Service) error

// WithPolicy replaces the default authorization policy.
func WithPolicy(p auth.Policy) Option {
	return func(s *Service) error {
		if p == nil {
			return errors.New("accounts: policy is nil")
		}
		s.policy = p
		return nil
	}
}

// WithHashCost overrides the bcrypt cost (tests use bcrypt.MinCost).
func WithHashCost(cost int) Option {
	return func(s *Service) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("accounts: bcrypt cost %d out of range", cost)
		}
		s.hashCost = cost
		return nil
	}
}

// NewService constructs Service.
func NewService(store auth.CredentialStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("accounts: credential store is required")
	}
	svc := &Service{
		store:    store,
		policy:   auth.DefaultPolicy{},
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Register creates an account. Only an administrator actor may create another
// administrator; actor is nil for anonymous sign-up.
func (s *Service) Register(ctx context.Context, actor *auth.User, in auth.NewUser) (auth.User, error) {
	if in.IsAdmin && (actor == nil || !actor.IsAdmin) {
		return auth.User{}, fmt.Errorf("%w: only administrators can create administrators", auth.ErrForbidden)
	}
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return auth.User{}, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return auth.User{}, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return auth.User{}, err
	}
	u := &auth.User{
		Username:     username,
		Email:        email,
		IsAdmin:      in.IsAdmin,
		PasswordHash: hash,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return auth.User{}, auth.AsUnavailable(err)
	}
	return u.Public(), nil
}

// EnsureAdmin creates the bootstrap administrator unless the username already exists.
func (s *Service) EnsureAdmin(ctx context.Context, in auth.NewUser) (auth.User, bool, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return auth.User{}, false, err
	}
	existing, err := s.store.FindByUsername(ctx, username)
	if err == nil {
		return existing.Public(), false, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return auth.User{}, false, auth.AsUnavailable(err)
	}
	in.IsAdmin = true
	bootstrap := &auth.User{IsAdmin: true}
	created, err := s.Register(ctx, bootstrap, in)
	if err != nil {
		return auth.User{}, false, err
	}
	return created, true, nil
}

// Get returns the public projection of username.
func (s *Service) Get(ctx context.Context, username string) (auth.User, error) {
	u, err := s.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return auth.User{}, auth.AsUnavailable(err)
	}
	return u.Public(), nil
}

// List returns every account, secrets removed.
func (s *Service) List(ctx context.Context) ([]auth.User, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, auth.AsUnavailable(err)
	}
	out := make([]auth.User, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out, nil
}

// Update applies the requested fields to username on behalf of actor. Either the
// whole update is applied or nothing is.
func (s *Service) Update(ctx context.Context, actor auth.User, username string, fields map[string]json.RawMessage) (auth.User, error) {
	username = strings.TrimSpace(username)
	if !s.policy.CanModify(actor, username) {
		return auth.User{}, fmt.Errorf("%w: cannot modify %s", auth.ErrForbidden, username)
	}
	upd, err := s.policy.FilterUpdateFields(actor, fields)
	if err != nil {
		return auth.User{}, err
	}
	if upd, err = s.normalizeUpdate(upd); err != nil {
		return auth.User{}, err
	}
	target, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return auth.User{}, auth.AsUnavailable(err)
	}
	updated, err := s.store.Update(ctx, target.ID, upd)
	if err != nil {
		return auth.User{}, auth.AsUnavailable(err)
	}
	return updated.Public(), nil
}

// Delete removes username. Administrators only.
func (s *Service) Delete(ctx context.Context, actor auth.User, username string) error {
	username = strings.TrimSpace(username)
	if !s.policy.CanDelete(actor, username) {
		return fmt.Errorf("%w: administrator privileges required", auth.ErrForbidden)
	}
	target, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return auth.AsUnavailable(err)
	}
	return auth.AsUnavailable(s.store.Delete(ctx, target.ID))
}

func (s *Service) normalizeUpdate(upd auth.UserUpdate) (auth.UserUpdate, error) {
	if upd.Username != nil {
		name, err := normalizeUsername(*upd.Username)
		if err != nil {
			return auth.UserUpdate{}, err
		}
		upd.Username = &name
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return auth.UserUpdate{}, err
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		hash, err := s.hashPassword(*upd.Password)
		if err != nil {
			return auth.UserUpdate{}, err
		}
		upd.Password = &hash
	}
	return upd, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", auth.ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("%w: password must be at most %d bytes", auth.ErrInvalidInput, maxPasswordLength)
	}
	hash, err := auth.HashPasswordCost(password, s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func normalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if len(name) < minUsernameLength {
		return "", fmt.Errorf("%w: username must be at least %d characters", auth.ErrInvalidInput, minUsernameLength)
	}
	if len(name) > maxUsernameLength {
		return "", fmt.Errorf("%w: username must be at most %d characters", auth.ErrInvalidInput, maxUsernameLength)
	}
	if strings.ContainsAny(name, "/@ \t\r\n") {
		return "", fmt.Errorf("%w: username contains invalid characters", auth.ErrInvalidInput)
	}
	return name, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("%w: invalid email format", auth.ErrInvalidInput)
	}
	return email, nil
}
