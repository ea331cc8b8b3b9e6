// Package httpapi exposes the session and account services over HTTP and a gRPC
// health endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sesame.dev/internal/accounts"
	"sesame.dev/internal/auth"
	"sesame.dev/internal/obs"
)

const serviceName = "sesame-api"

// Pinger is any dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every configured dependency; nil entries are skipped.
type ReadyProbe struct {
	Checks map[string]Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	for name, p := range rp.Checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
	Domain string
}

// Options wires the API to its collaborators.
type Options struct {
	Version      string
	Ready        readinessChecker
	Sessions     auth.Authenticator
	Accounts     *accounts.Service
	Cookie       CookieOptions
	MaxBodyBytes int64
	CORSOrigins  []string

	// TrustedProxies are the peers whose X-Forwarded-For header is believed.
	TrustedProxies []string

	// Requests per RateWindow per client IP; AuthRequests applies to
	// login, registration and refresh on top of the general limit.
	RateRequests int
	AuthRequests int
	RateWindow   time.Duration
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	ready    readinessChecker
	version  string
	sessions auth.Authenticator
	accounts *accounts.Service
	cookie   CookieOptions

	maxBody     int64
	corsOrigins []string
	general     *rateLimiter
	strict      *rateLimiter
	proxies     trustedProxies
}

func New(opts Options) (*API, error) {
	if opts.Sessions == nil {
		return nil, errors.New("httpapi: session authenticator is required")
	}
	if opts.Accounts == nil {
		return nil, errors.New("httpapi: account service is required")
	}
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.Cookie.Name == "" {
		opts.Cookie.Name = "session"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = 15 * time.Minute
	}
	if opts.RateRequests <= 0 {
		opts.RateRequests = 100
	}
	if opts.AuthRequests <= 0 {
		opts.AuthRequests = 5
	}

	proxies, err := parseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}

	a := &API{
		mux:         http.NewServeMux(),
		ready:       opts.Ready,
		version:     opts.Version,
		sessions:    opts.Sessions,
		accounts:    opts.Accounts,
		cookie:      opts.Cookie,
		maxBody:     opts.MaxBodyBytes,
		corsOrigins: opts.CORSOrigins,
		general:     newRateLimiter(opts.RateRequests, opts.RateWindow),
		strict:      newRateLimiter(opts.AuthRequests, opts.RateWindow),
		proxies:     proxies,
	}
	a.general.proxies = proxies
	a.strict.proxies = proxies

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/login", a.strict.Wrap(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/v1/auth/refresh", a.strict.Wrap(http.HandlerFunc(a.handleRefresh)))
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)
	a.mux.HandleFunc("/v1/auth/me", a.handleSession)

	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a, nil
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = a.general.Wrap(h)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
