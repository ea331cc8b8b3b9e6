package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 7 * 24 * time.Hour

// Claims represents the JWT claims carried by a session token.
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenCodec signs session tokens and verifies presented ones.
// Implementations must not consult revocation state.
type TokenCodec interface {
	Issue(u User) (Token, error)
	Verify(raw string) (*Claims, error)
}

// JWTCodec is an HS256 TokenCodec.
type JWTCodec struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

var _ TokenCodec = (*JWTCodec)(nil)

// CodecOption configures JWTCodec behavior.
type CodecOption func(*JWTCodec) error

// WithIssuer sets the issuer claim written on issue and required on verify.
func WithIssuer(issuer string) CodecOption {
	return func(c *JWTCodec) error {
		c.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience sets the audience claim written on issue and required on verify.
func WithAudience(audience string) CodecOption {
	return func(c *JWTCodec) error {
		c.audience = strings.TrimSpace(audience)
		return nil
	}
}

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) CodecOption {
	return func(c *JWTCodec) error {
		if ttl < time.Second {
			return fmt.Errorf("auth: token ttl must be at least one second, got %s", ttl)
		}
		c.ttl = ttl
		return nil
	}
}

// WithCodecClock overrides time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *JWTCodec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewJWTCodec constructs a codec signing with secret.
func NewJWTCodec(secret string, opts ...CodecOption) (*JWTCodec, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	c := &JWTCodec{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TTL reports the configured token lifetime.
func (c *JWTCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for u.
func (c *JWTCodec) Issue(u User) (Token, error) {
	if strings.TrimSpace(u.ID) == "" {
		return Token{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	// Claims carry whole seconds; truncating keeps Token and claims in agreement.
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(c.ttl)
	claims := Claims{
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{
		Value:     signed,
		ID:        claims.ID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks structure, signature, expiry and issuer/audience, in that order.
func (c *JWTCodec) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedToken
	}

	// Expiry is checked below against c.now with "now > exp" semantics, which differ
	// from the library's own validator.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrMalformedToken
		}
		return nil, ErrBadSignature
	}

	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrMalformedToken
	}
	if c.now().Unix() > claims.ExpiresAt.Unix() {
		return nil, ErrExpired
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrIssuerAudienceMismatch
	}
	if c.audience != "" && !slices.Contains(claims.Audience, c.audience) {
		return nil, ErrIssuerAudienceMismatch
	}
	return claims, nil
}

// TokenKey derives the revocation key for a raw token.
func TokenKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
