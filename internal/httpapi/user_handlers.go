package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"sesame.dev/internal/audit"
	"sesame.dev/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.strict.allow(w, r) {
			return
		}
		a.register(w, r)
	case http.MethodGet:
		a.listUsers(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// register creates an account. Anonymous callers are signed in as the new user;
// an authenticated caller (e.g. an administrator creating accounts) keeps its
// own session and only receives the created record. A stale or invalid token
// makes the caller anonymous rather than failing the request.
func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var actor *auth.User
	if raw := a.tokenFromRequest(r); raw != "" {
		u, err := a.sessions.Authenticate(r.Context(), raw)
		switch {
		case err == nil:
			actor = &u
		case !auth.IsAuthFailure(err):
			writeServiceError(w, r, err)
			return
		}
	}

	var req registerRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	user, err := a.accounts.Register(r.Context(), actor, auth.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	ev := audit.Event{Name: "user.registered", Target: user.Username, Fields: map[string]any{"is_admin": user.IsAdmin}}
	if actor != nil {
		ev.Actor = actor.ID
	}
	_ = audit.LogEvent(r.Context(), ev)
	w.Header().Set("Location", "/v1/users/"+url.PathEscape(user.Username))

	if actor != nil {
		writeJSON(w, http.StatusCreated, sessionResponse{User: user})
		return
	}
	tok, err := a.sessions.Issue(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.setSessionCookie(w, tok)
	writeJSON(w, http.StatusCreated, newSessionResponse(user, tok))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	users, err := a.accounts.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	username, err := url.PathUnescape(raw)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, username)
	case http.MethodPut, http.MethodPatch:
		a.updateUser(w, r, username)
	case http.MethodDelete:
		a.deleteUser(w, r, username)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, username string) {
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	user, err := a.accounts.Get(r.Context(), username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, username string) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var fields map[string]json.RawMessage
	if err := decodeJSON(r, &fields, false); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	user, err := a.accounts.Update(r.Context(), actor, username, fields)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.Event{
		Name:   "user.updated",
		Actor:  actor.ID,
		Target: username,
		Fields: map[string]any{"fields": fieldNames(fields)},
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, username string) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if err := a.accounts.Delete(r.Context(), actor, username); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.Event{Name: "user.deleted", Actor: actor.ID, Target: username})
	w.WriteHeader(http.StatusNoContent)
}

func fieldNames(fields map[string]json.RawMessage) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
