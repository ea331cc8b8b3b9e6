package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sesame.dev/internal/auth"
	"sesame.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// tokenFromRequest returns the raw session token. The cookie wins when both the
// cookie and the Authorization header are present.
func (a *API) tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(a.cookie.Name); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return extractBearerToken(r.Header.Get(authHeader))
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

// requireUser authenticates the request, writing a 401 and returning false on
// any failure.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	user, err := a.sessions.Authenticate(r.Context(), a.tokenFromRequest(r))
	obs.RecordAuthentication(resultLabel(err))
	if err != nil {
		writeServiceError(w, r, err)
		return auth.User{}, false
	}
	return user, true
}

func (a *API) setSessionCookie(w http.ResponseWriter, tok auth.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    tok.Value,
		Path:     "/",
		Domain:   a.cookie.Domain,
		Expires:  tok.ExpiresAt,
		MaxAge:   int(time.Until(tok.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    "",
		Path:     "/",
		Domain:   a.cookie.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

var resultLabels = []struct {
	err   error
	label string
}{
	{auth.ErrInvalidCredential, "invalid_credential"},
	{auth.ErrMissingToken, "missing_token"},
	{auth.ErrMalformedToken, "malformed"},
	{auth.ErrBadSignature, "bad_signature"},
	{auth.ErrExpired, "expired"},
	{auth.ErrRevoked, "revoked"},
	{auth.ErrIssuerAudienceMismatch, "issuer_audience_mismatch"},
	{auth.ErrIdentityNotFound, "identity_not_found"},
	{auth.ErrUnavailable, "unavailable"},
}

// resultLabel turns an authentication outcome into a bounded metric label.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	for _, rl := range resultLabels {
		if errors.Is(err, rl.err) {
			return rl.label
		}
	}
	return "error"
}
