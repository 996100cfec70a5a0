// Package migrations applies the embedded goose migrations for both stores.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
)

// Dialect selects a migration set.
type Dialect string

const (
	Postgres   Dialect = "postgres"
	Clickhouse Dialect = "clickhouse"
)

type migrationSet struct {
	fs  fs.FS
	dir string
}

func (d Dialect) set() (migrationSet, error) {
	switch d {
	case Postgres:
		return migrationSet{fs: PostgresFS, dir: "postgres"}, nil
	case Clickhouse:
		return migrationSet{fs: ClickhouseFS, dir: "clickhouse"}, nil
	}
	return migrationSet{}, fmt.Errorf("unknown migration dialect %q", string(d))
}

// slogGooseLogger adapts goose's logger to slog.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// prepare points goose at the embedded set for d. goose keeps this as
// package state, so callers must not migrate two dialects concurrently.
func prepare(log *slog.Logger, d Dialect) (migrationSet, error) {
	set, err := d.set()
	if err != nil {
		return migrationSet{}, err
	}
	if log == nil {
		log = slog.Default()
	}
	goose.SetLogger(&slogGooseLogger{log: log.With("dialect", string(d))})
	goose.SetBaseFS(set.fs)
	if err := goose.SetDialect(string(d)); err != nil {
		return migrationSet{}, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return set, nil
}

// Up applies all pending migrations.
func Up(ctx context.Context, log *slog.Logger, db *sql.DB, d Dialect) error {
	set, err := prepare(log, d)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, set.dir); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", d, err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, log *slog.Logger, db *sql.DB, d Dialect) error {
	set, err := prepare(log, d)
	if err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, set.dir); err != nil {
		return fmt.Errorf("failed to roll back %s migration: %w", d, err)
	}
	return nil
}

// Status logs the applied state of every migration.
func Status(ctx context.Context, log *slog.Logger, db *sql.DB, d Dialect) error {
	set, err := prepare(log, d)
	if err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, db, set.dir); err != nil {
		return fmt.Errorf("failed to get %s migration status: %w", d, err)
	}
	return nil
}

// Version returns the current schema version.
func Version(ctx context.Context, log *slog.Logger, db *sql.DB, d Dialect) (int64, error) {
	if _, err := prepare(log, d); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to get %s schema version: %w", d, err)
	}
	return v, nil
}
