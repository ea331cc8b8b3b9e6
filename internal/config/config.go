// Package config loads service settings from defaults, an optional YAML file and
// SESAME_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sesame.dev/internal/auth"
)

const minSecretLength = 32

// Revocation backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr     string   `yaml:"http_addr"`
	GRPCAddr     string   `yaml:"grpc_addr"`
	LoginHandle  string   `yaml:"login_handle"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	CORSOrigins  []string `yaml:"cors_origins"`

	// Peers whose X-Forwarded-For header is honoured. Entries are IPs or CIDRs.
	TrustedProxies []string `yaml:"trusted_proxies"`

	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Revocation RevocationConfig `yaml:"revocation"`
	Token      TokenConfig      `yaml:"token"`
	Cookie     CookieConfig     `yaml:"cookie"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Admin      AdminConfig      `yaml:"bootstrap_admin"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type RevocationConfig struct {
	Backend       string        `yaml:"backend"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type TokenConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

type CookieConfig struct {
	Name   string `yaml:"name"`
	Secure bool   `yaml:"secure"`
	Domain string `yaml:"domain"`
}

type RateLimitConfig struct {
	Requests     int           `yaml:"requests"`
	AuthRequests int           `yaml:"auth_requests"`
	Window       time.Duration `yaml:"window"`
}

// AdminConfig describes the administrator created at start-up when Username is set.
type AdminConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Default returns the built-in settings. The token secret has no default.
func Default() *Config {
	return &Config{
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		LoginHandle:  string(auth.HandleAny),
		MaxBodyBytes: 1 << 20,
		Postgres: PostgresConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "sesame:revoked:",
		},
		Revocation: RevocationConfig{
			Backend:       BackendMemory,
			PruneInterval: time.Minute,
		},
		Token: TokenConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Cookie: CookieConfig{
			Name:   "session",
			Secure: true,
		},
		RateLimit: RateLimitConfig{
			Requests:     100,
			AuthRequests: 5,
			Window:       15 * time.Minute,
		},
	}
}

// Load reads path (optional) and the process environment, then validates.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("SESAME_HTTP_ADDR", &c.HTTPAddr)
	str("SESAME_GRPC_ADDR", &c.GRPCAddr)
	str("SESAME_LOGIN_HANDLE", &c.LoginHandle)
	str("SESAME_PG_DSN", &c.Postgres.DSN)
	num("SESAME_PG_MAX_OPEN_CONNS", &c.Postgres.MaxOpenConns)
	str("SESAME_REDIS_ADDR", &c.Redis.Addr)
	str("SESAME_REDIS_PASSWORD", &c.Redis.Password)
	num("SESAME_REDIS_DB", &c.Redis.DB)
	str("SESAME_REDIS_PREFIX", &c.Redis.Prefix)
	str("SESAME_REVOCATION_BACKEND", &c.Revocation.Backend)
	dur("SESAME_REVOCATION_PRUNE_INTERVAL", &c.Revocation.PruneInterval)
	str("SESAME_JWT_SECRET", &c.Token.Secret)
	str("SESAME_JWT_ISSUER", &c.Token.Issuer)
	str("SESAME_JWT_AUDIENCE", &c.Token.Audience)
	dur("SESAME_TOKEN_TTL", &c.Token.TTL)
	str("SESAME_COOKIE_NAME", &c.Cookie.Name)
	flag("SESAME_COOKIE_SECURE", &c.Cookie.Secure)
	str("SESAME_COOKIE_DOMAIN", &c.Cookie.Domain)
	num("SESAME_RATE_LIMIT", &c.RateLimit.Requests)
	num("SESAME_AUTH_RATE_LIMIT", &c.RateLimit.AuthRequests)
	dur("SESAME_RATE_LIMIT_WINDOW", &c.RateLimit.Window)
	str("SESAME_ADMIN_USERNAME", &c.Admin.Username)
	str("SESAME_ADMIN_EMAIL", &c.Admin.Email)
	str("SESAME_ADMIN_PASSWORD", &c.Admin.Password)

	if v, ok := lookup("SESAME_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SESAME_MAX_BODY_BYTES: %w", err))
		} else {
			c.MaxBodyBytes = n
		}
	}
	if v, ok := lookup("SESAME_CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("SESAME_TRUSTED_PROXIES"); ok {
		c.TrustedProxies = splitList(v)
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Token.Secret) < minSecretLength {
		errs = append(errs, fmt.Errorf("token secret must be at least %d bytes", minSecretLength))
	}
	if c.Token.TTL < time.Second {
		errs = append(errs, errors.New("token ttl must be at least 1s"))
	}
	if _, err := auth.ParseHandlePolicy(c.LoginHandle); err != nil {
		errs = append(errs, err)
	}
	switch c.Revocation.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis revocation backend requires redis addr"))
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres revocation backend requires a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown revocation backend %q", c.Revocation.Backend))
	}
	if c.Cookie.Name == "" {
		errs = append(errs, errors.New("cookie name is required"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.AuthRequests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limits and window must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body bytes must be positive"))
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("trusted proxy %q is not an IP or CIDR", p))
		}
	}
	if c.Admin.Username != "" && (c.Admin.Email == "" || c.Admin.Password == "") {
		errs = append(errs, errors.New("bootstrap admin needs email and password"))
	}
	return errors.Join(errs...)
}
