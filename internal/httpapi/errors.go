package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"sesame.dev/internal/auth"
	"sesame.dev/internal/obs"
)

var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads exactly one JSON value from the body into dst.
func decodeJSON(r *http.Request, dst any, strict bool) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="sesame"`)
	writeError(w, r, http.StatusUnauthorized, "authentication failed")
}

// writeServiceError maps service errors to responses. Every authentication
// failure looks the same to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case auth.IsAuthFailure(err):
		unauthorized(w, r)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, publicMessage(err))
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "username or email already taken")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err))
	case errors.Is(err, auth.ErrUnavailable):
		obs.Error("dependency unavailable", map[string]any{"request_id": RequestIDFromContext(r.Context()), "err": err})
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		obs.Error("internal error", map[string]any{"request_id": RequestIDFromContext(r.Context()), "err": err})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "auth: ")
}
