// Package main applies, rolls back or reports schema migrations.
//
// Usage:
//
//	migrate [flags] up|down|status|version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"solana-holder-lottery/internal/config"
	"solana-holder-lottery/internal/logger"
	chstore "solana-holder-lottery/internal/storage/clickhouse"
	"solana-holder-lottery/internal/storage/migrations"
	pgstore "solana-holder-lottery/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string (or POSTGRES_DSN)")
	fs.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (or CLICKHOUSE_DSN)")
	dialect := fs.String("dialect", "all", "database to migrate: postgres, clickhouse or all")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall timeout")
	verbose := fs.BoolP("verbose", "v", cfg.Verbose, "enable verbose (debug) logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags] up|down|status|version\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	command := fs.Arg(0)

	log := logger.New(*verbose)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, log, cfg, *dialect, command); err != nil {
		log.Error("migrate failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Config, dialect, command string) error {
	var targets []migrations.Dialect
	switch dialect {
	case "all":
		targets = []migrations.Dialect{migrations.Postgres}
		if cfg.ClickhouseDSN != "" {
			targets = append(targets, migrations.Clickhouse)
		}
	case string(migrations.Postgres), string(migrations.Clickhouse):
		targets = []migrations.Dialect{migrations.Dialect(dialect)}
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}

	for _, d := range targets {
		if err := migrate(ctx, log, cfg, d, command); err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
	}
	return nil
}

func migrate(ctx context.Context, log *slog.Logger, cfg *config.Config, d migrations.Dialect, command string) error {
	db, err := open(ctx, cfg, d)
	if err != nil {
		return err
	}
	defer db.Close()

	switch command {
	case "up":
		return migrations.Up(ctx, log, db, d)
	case "down":
		return migrations.Down(ctx, log, db, d)
	case "status":
		return migrations.Status(ctx, log, db, d)
	case "version":
		v, err := migrations.Version(ctx, log, db, d)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d\n", d, v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func open(ctx context.Context, cfg *config.Config, d migrations.Dialect) (*sql.DB, error) {
	switch d {
	case migrations.Postgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required")
		}
		return pgstore.OpenDB(ctx, cfg.PostgresDSN)
	case migrations.Clickhouse:
		if cfg.ClickhouseDSN == "" {
			return nil, fmt.Errorf("CLICKHOUSE_DSN is required")
		}
		if err := chstore.EnsureDatabase(ctx, cfg.ClickhouseDSN); err != nil {
			return nil, err
		}
		return chstore.OpenDB(cfg.ClickhouseDSN)
	default:
		return nil, fmt.Errorf("unknown dialect %q", d)
	}
}
