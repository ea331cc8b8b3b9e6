package httpapi

import (
	"net/http"
	"time"

	"sesame.dev/internal/audit"
	"sesame.dev/internal/auth"
	"sesame.dev/internal/obs"
)

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      auth.User  `json:"user"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newSessionResponse(u auth.User, tok auth.Token) sessionResponse {
	exp := tok.ExpiresAt.UTC()
	return sessionResponse{User: u, Token: tok.Value, ExpiresAt: &exp}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	user, tok, err := a.sessions.Login(r.Context(), req.Handle, req.Password)
	obs.RecordLogin(resultLabel(err))
	if err != nil {
		if auth.IsAuthFailure(err) {
			_ = audit.LogEvent(r.Context(), audit.Event{Name: "auth.login_failed", Fields: map[string]any{"ip": clientIP(r, a.proxies)}})
		}
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.Event{Name: "auth.login", Actor: user.ID, Fields: map[string]any{"jti": tok.ID}})
	a.setSessionCookie(w, tok)
	writeJSON(w, http.StatusOK, newSessionResponse(user, tok))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.clearSessionCookie(w)
	if err := a.sessions.Logout(r.Context(), a.tokenFromRequest(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	obs.RecordLogout()
	_ = audit.LogEvent(r.Context(), audit.Event{Name: "auth.logout"})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, tok, err := a.sessions.Refresh(r.Context(), a.tokenFromRequest(r))
	obs.RecordAuthentication(resultLabel(err))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.Event{Name: "auth.refresh", Actor: user.ID, Fields: map[string]any{"jti": tok.ID}})
	a.setSessionCookie(w, tok)
	writeJSON(w, http.StatusOK, newSessionResponse(user, tok))
}
