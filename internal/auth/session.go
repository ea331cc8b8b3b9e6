package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sesame.dev/internal/ids"
)

// HandlePolicy selects which public handle Login accepts.
type HandlePolicy string

const (
	HandleAny      HandlePolicy = "any"
	HandleUsername HandlePolicy = "username"
	HandleEmail    HandlePolicy = "email"
)

// ParseHandlePolicy validates a configured handle policy. Empty means HandleAny.
func ParseHandlePolicy(raw string) (HandlePolicy, error) {
	switch p := HandlePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return HandleAny, nil
	case HandleAny, HandleUsername, HandleEmail:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unsupported login handle %q", ErrInvalidInput, raw)
	}
}

// Authenticator is the only component allowed to turn credentials or a token into
// a verified user.
type Authenticator interface {
	Login(ctx context.Context, handle, secret string) (User, Token, error)
	Authenticate(ctx context.Context, raw string) (User, error)
	Logout(ctx context.Context, raw string) error
	Refresh(ctx context.Context, raw string) (User, Token, error)
	Issue(ctx context.Context, u User) (Token, error)
}

// SessionService implements Authenticator on top of a credential store, a token
// codec and a revocation registry.
type SessionService struct {
	users       CredentialStore
	codec       TokenCodec
	revocations RevocationRegistry
	handles     HandlePolicy
}

var _ Authenticator = (*SessionService)(nil)

// SessionOption configures SessionService behavior.
type SessionOption func(*SessionService) error

// WithHandlePolicy restricts which handle Login looks users up by.
func WithHandlePolicy(p HandlePolicy) SessionOption {
	return func(s *SessionService) error {
		parsed, err := ParseHandlePolicy(string(p))
		if err != nil {
			return err
		}
		s.handles = parsed
		return nil
	}
}

// NewSessionService wires the authenticator to its collaborators.
func NewSessionService(users CredentialStore, codec TokenCodec, revocations RevocationRegistry, opts ...SessionOption) (*SessionService, error) {
	if users == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	if revocations == nil {
		return nil, errors.New("auth: revocation registry is required")
	}
	s := &SessionService{
		users:       users,
		codec:       codec,
		revocations: revocations,
		handles:     HandleAny,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Login checks the secret for handle and issues a token. Unknown handles and wrong
// secrets fail identically with ErrInvalidCredential.
func (s *SessionService) Login(ctx context.Context, handle, secret string) (User, Token, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || secret == "" {
		burnPasswordCheck(secret)
		return User{}, Token{}, ErrInvalidCredential
	}
	user, err := s.lookup(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(secret)
			return User{}, Token{}, ErrInvalidCredential
		}
		return User{}, Token{}, unavailable(err)
	}
	if !user.VerifySecret(secret) {
		return User{}, Token{}, ErrInvalidCredential
	}
	tok, err := s.codec.Issue(*user)
	if err != nil {
		return User{}, Token{}, err
	}
	return user.Public(), tok, nil
}

// Authenticate resolves raw to the current user record. Checks run in a fixed
// order: presence, revocation, signature and expiry, then account existence.
func (s *SessionService) Authenticate(ctx context.Context, raw string) (User, error) {
	user, _, err := s.authenticate(ctx, raw)
	return user, err
}

func (s *SessionService) authenticate(ctx context.Context, raw string) (User, *Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return User{}, nil, ErrMissingToken
	}
	revoked, err := s.revocations.IsRevoked(ctx, TokenKey(raw))
	if err != nil {
		return User{}, nil, unavailable(err)
	}
	if revoked {
		return User{}, nil, ErrRevoked
	}
	claims, err := s.codec.Verify(raw)
	if err != nil {
		return User{}, nil, err
	}
	if !ids.Valid(claims.Subject) {
		return User{}, nil, ErrIdentityNotFound
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, nil, ErrIdentityNotFound
		}
		return User{}, nil, unavailable(err)
	}
	return user.Public(), claims, nil
}

// Logout revokes raw until it expires. Tokens that are already expired, or that
// were never signed by this service, are accepted without being recorded.
func (s *SessionService) Logout(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrMissingToken
	}
	claims, err := s.codec.Verify(raw)
	switch {
	case err == nil:
		if err := s.revocations.Revoke(ctx, TokenKey(raw), claims.ExpiresAt.Time); err != nil {
			return unavailable(err)
		}
		return nil
	case errors.Is(err, ErrMalformedToken):
		return err
	default:
		return nil
	}
}

// Refresh re-authenticates raw, issues a replacement and revokes raw. The secret
// is not checked again.
func (s *SessionService) Refresh(ctx context.Context, raw string) (User, Token, error) {
	user, claims, err := s.authenticate(ctx, raw)
	if err != nil {
		return User{}, Token{}, err
	}
	tok, err := s.codec.Issue(user)
	if err != nil {
		return User{}, Token{}, err
	}
	if err := s.revocations.Revoke(ctx, TokenKey(raw), claims.ExpiresAt.Time); err != nil {
		return User{}, Token{}, unavailable(err)
	}
	return user, tok, nil
}

// Issue signs a token for an already verified user, e.g. right after registration.
func (s *SessionService) Issue(_ context.Context, u User) (Token, error) {
	return s.codec.Issue(u)
}

func (s *SessionService) lookup(ctx context.Context, handle string) (*User, error) {
	switch s.handles {
	case HandleUsername:
		return s.users.FindByUsername(ctx, handle)
	case HandleEmail:
		return s.users.FindByEmail(ctx, strings.ToLower(handle))
	default:
		return s.users.FindByHandle(ctx, handle)
	}
}

var knownKinds = append([]error{ErrForbidden, ErrAlreadyExists, ErrNotFound, ErrInvalidInput, ErrUnavailable}, authFailures...)

// unavailable tags errors of unknown kind as dependency failures.
func unavailable(err error) error {
	for _, kind := range knownKinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// AsUnavailable is exported for collaborators that wrap store calls outside this package.
func AsUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return unavailable(err)
}
