// Package migrate applies the embedded PostgreSQL schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the schema files bundled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manager runs migrations against a database handle.
type Manager struct {
	provider *goose.Provider
}

// Option configures Manager.
type Option func(*options)

type options struct {
	fsys    fs.FS
	verbose bool
}

// WithFS replaces the embedded migrations, e.g. with a directory on disk.
func WithFS(fsys fs.FS) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithVerbose makes goose log each applied migration.
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// NewManager constructs a Manager for db.
func NewManager(db *sql.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("migrate: db is nil")
	}
	o := options{fsys: Migrations()}
	for _, opt := range opts {
		opt(&o)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, o.fsys, goose.WithVerbose(o.verbose))
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Manager{provider: provider}, nil
}

// Result describes one migration that was applied or rolled back.
type Result struct {
	Version  int64
	Path     string
	Duration time.Duration
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) ([]Result, error) {
	results, err := m.provider.Up(ctx)
	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, toResult(r))
	}
	if err != nil {
		return out, fmt.Errorf("apply migrations: %w", err)
	}
	return out, nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (Result, error) {
	r, err := m.provider.Down(ctx)
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return Result{}, errors.New("no migrations applied")
		}
		return Result{}, fmt.Errorf("rollback migration: %w", err)
	}
	return toResult(r), nil
}

// Status describes one known migration.
type Status struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Status returns every known migration in version order.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]Status, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, Status{
			Version:   st.Source.Version,
			Path:      st.Source.Path,
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}

// Version returns the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}

func toResult(r *goose.MigrationResult) Result {
	if r == nil || r.Source == nil {
		return Result{}
	}
	return Result{Version: r.Source.Version, Path: r.Source.Path, Duration: r.Duration}
}
