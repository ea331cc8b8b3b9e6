package auth

import "errors"

// Authentication failures. The HTTP boundary collapses all of these into a single
// "authentication failed" response; see IsAuthFailure.
var (
	ErrInvalidCredential      = errors.New("auth: invalid credential")
	ErrMissingToken           = errors.New("auth: missing token")
	ErrMalformedToken         = errors.New("auth: malformed token")
	ErrBadSignature           = errors.New("auth: bad signature")
	ErrExpired                = errors.New("auth: token expired")
	ErrRevoked                = errors.New("auth: token revoked")
	ErrIssuerAudienceMismatch = errors.New("auth: issuer or audience mismatch")
	ErrIdentityNotFound       = errors.New("auth: identity not found")
)

var (
	ErrForbidden     = errors.New("auth: forbidden")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrNotFound      = errors.New("auth: not found")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnavailable   = errors.New("auth: dependency unavailable")
)

var authFailures = []error{
	ErrInvalidCredential,
	ErrMissingToken,
	ErrMalformedToken,
	ErrBadSignature,
	ErrExpired,
	ErrRevoked,
	ErrIssuerAudienceMismatch,
	ErrIdentityNotFound,
}

// IsAuthFailure reports whether err is one of the authentication failure kinds.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range authFailures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
