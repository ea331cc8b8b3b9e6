package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"sesame.dev/internal/accounts"
	"sesame.dev/internal/auth"
	"sesame.dev/internal/config"
	"sesame.dev/internal/httpapi"
	"sesame.dev/internal/obs"
	"sesame.dev/internal/store/memory"
	"sesame.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := pflag.String("config", os.Getenv("SESAME_CONFIG"), "path to YAML config file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		obs.Error("sesame-api exited", map[string]any{"err": err})
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(obs.BuildInfo{Version: version, Commit: commit})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.Pinger{}

	var (
		users auth.CredentialStore
		db    *pg.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err = pg.Open(cfg.Postgres.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		users = db.Users()
		checks["postgres"] = db
	} else {
		obs.Warn("no postgres dsn configured, accounts are kept in memory", nil)
		users = memory.New()
	}

	registry, closeRegistry, err := buildRegistry(ctx, cfg, db, checks)
	if err != nil {
		return err
	}
	// Runs after srv.Shutdown has drained in-flight requests.
	defer func() {
		if err := closeRegistry(); err != nil {
			obs.Warn("revocation backend close", map[string]any{"err": err})
		}
	}()

	codec, err := auth.NewJWTCodec(cfg.Token.Secret,
		auth.WithIssuer(cfg.Token.Issuer),
		auth.WithAudience(cfg.Token.Audience),
		auth.WithTokenTTL(cfg.Token.TTL),
	)
	if err != nil {
		return err
	}
	handles, err := auth.ParseHandlePolicy(cfg.LoginHandle)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionService(users, codec, registry, auth.WithHandlePolicy(handles))
	if err != nil {
		return err
	}
	accts, err := accounts.NewService(users)
	if err != nil {
		return err
	}

	if cfg.Admin.Username != "" {
		bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		admin, created, err := accts.EnsureAdmin(bootCtx, auth.NewUser{
			Username: cfg.Admin.Username,
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
		})
		cancel()
		if err != nil {
			return err
		}
		if created {
			obs.Info("bootstrap admin created", map[string]any{"user_id": admin.ID, "username": admin.Username})
		}
	}

	probe := httpapi.ReadyProbe{Checks: checks}
	api, err := httpapi.New(httpapi.Options{
		Version:  version,
		Ready:    probe,
		Sessions: sessions,
		Accounts: accts,
		Cookie: httpapi.CookieOptions{
			Name:   cfg.Cookie.Name,
			Secure: cfg.Cookie.Secure,
			Domain: cfg.Cookie.Domain,
		},
		MaxBodyBytes:   cfg.MaxBodyBytes,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		RateRequests:   cfg.RateLimit.Requests,
		AuthRequests:   cfg.RateLimit.AuthRequests,
		RateWindow:     cfg.RateLimit.Window,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe)
	grpcSrv := httpapi.NewGRPCServer(health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go health.Run(ctx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		obs.Info("http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		obs.Info("grpc listening", map[string]any{"addr": lis.Addr().String()})
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		obs.Info("shutting down", nil)
	case err := <-errCh:
		stop()
		return err
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Warn("http shutdown", map[string]any{"err": err})
	}
	grpcSrv.GracefulStop()
	obs.Info("stopped", nil)
	return nil
}

// buildRegistry picks the revocation backend and starts its janitor where one is
// needed. Redis expires entries on its own. The returned close func releases
// backend connections and must run only after the HTTP server has drained.
func buildRegistry(ctx context.Context, cfg *config.Config, db *pg.Store, checks map[string]httpapi.Pinger) (auth.RevocationRegistry, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Revocation.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		registry := auth.NewRedisRegistry(client, cfg.Redis.Prefix)
		checks["redis"] = registry
		return registry, client.Close, nil
	case config.BackendPostgres:
		if db == nil {
			return nil, noop, errors.New("postgres revocation backend requires a dsn")
		}
		registry := db.Revocations()
		go registry.Run(ctx, cfg.Revocation.PruneInterval, func(err error) {
			obs.Warn("revocation prune failed", map[string]any{"err": err})
		})
		return registry, noop, nil
	default:
		registry := auth.NewMemoryRegistry(nil)
		go registry.Run(ctx, cfg.Revocation.PruneInterval)
		return registry, noop, nil
	}
}
