// Package main runs the distribution service: the HTTP trigger and status
// API, and optionally an in-process scheduler that fires once per cycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"solana-holder-lottery/internal/api"
	"solana-holder-lottery/internal/config"
	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/disbursement"
	"solana-holder-lottery/internal/feeclaim"
	"solana-holder-lottery/internal/logger"
	"solana-holder-lottery/internal/observability"
	"solana-holder-lottery/internal/orchestrator"
	"solana-holder-lottery/internal/scheduler"
	"solana-holder-lottery/internal/selection"
	"solana-holder-lottery/internal/solana"
	"solana-holder-lottery/internal/storage"
	chstore "solana-holder-lottery/internal/storage/clickhouse"
	"solana-holder-lottery/internal/storage/memory"
	"solana-holder-lottery/internal/storage/migrations"
	pgstore "solana-holder-lottery/internal/storage/postgres"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	// A trigger request holds its connection for the whole run, so both the
	// write timeout and the drain on shutdown must outlast a disbursement.
	writeTimeout    = orchestrator.DefaultClaimTimeout + orchestrator.DefaultDisburseTimeout + time.Minute
	shutdownTimeout = orchestrator.DefaultDisburseTimeout + 30*time.Second
	forceExitAfter  = shutdownTimeout + 15*time.Second
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	log := logger.New(cfg.Verbose)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	if err := observability.InitSentry(observability.SentryOptions{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     version,
	}); err != nil {
		log.Warn("sentry disabled", "error", err)
	}
	defer observability.FlushSentry(context.Background(), 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, initiating graceful shutdown", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			log.Warn("received second signal, forcing immediate shutdown", "signal", sig.String())
			os.Exit(1)
		case <-time.After(forceExitAfter):
			log.Error("graceful shutdown timed out, forcing exit", "after", forceExitAfter.String())
			os.Exit(1)
		case <-done:
		}
	}()

	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		observability.FlushSentry(context.Background(), 2*time.Second)
		os.Exit(1)
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		log.Error("server error", "error", err)
		observability.FlushSentry(context.Background(), 2*time.Second)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// Server holds all components of the service.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	clock     *cycle.Clock
	orch      *orchestrator.Orchestrator
	scheduler *scheduler.Scheduler
	httpSrv   *http.Server

	closers []func()
}

func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:   cfg,
		log:   log,
		clock: cycle.NewClock(nil, cfg.CyclePeriod),
	}

	st, err := s.createStores(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	signer, err := cfg.SigningKey()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("wallet secret: %w", err)
	}
	devWallet, err := cfg.DevWalletKey()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("dev wallet: %w", err)
	}
	policy, err := selection.ParsePoolPolicy(cfg.PoolPolicy)
	if err != nil {
		s.Close()
		return nil, err
	}
	var mint solanago.PublicKey
	if !cfg.MintEmpty() {
		if mint, err = solanago.PublicKeyFromBase58(cfg.TokenMint); err != nil {
			s.Close()
			return nil, fmt.Errorf("token mint: %w", err)
		}
	}

	rpc := solana.NewHTTPClient(cfg.RPCURL(), solana.WithRateLimit(cfg.RPCRateLimit, max(1, int(cfg.RPCRateLimit))))

	transferOpts := []solana.TransferOption{solana.WithTransferLogger(log)}
	if endpoint := cfg.WSURL(); endpoint != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = log
		ws, err := solana.NewWSClient(ctx, endpoint, &wsCfg)
		if err != nil {
			log.Warn("websocket unavailable, confirming by status polling", "error", err)
		} else {
			s.closers = append(s.closers, func() { _ = ws.Close() })
			transferOpts = append(transferOpts, solana.WithWebsocket(ws))
		}
	}
	transferrer := solana.NewTransferrer(rpc, signer, transferOpts...)

	selector := selection.NewSelector(solana.NewHolderSource(rpc, log), devWallet, selection.WithPoolPolicy(policy))
	executor := disbursement.NewExecutor(selector, transferrer, disbursement.Config{
		Mint:   mint,
		Logger: log,
	})

	// A configured zero means no settle wait; the orchestrator reads zero as the default.
	settle := cfg.SettleDelay
	if settle == 0 {
		settle = -1
	}

	s.orch = orchestrator.New(orchestrator.Options{
		Clock:       s.clock,
		Ledger:      rpc,
		Claimer:     feeclaim.NewClient(cfg.PumpPortalAPIKey),
		Disburser:   executor,
		Outcomes:    st.outcomes,
		Locker:      st.locker,
		Snapshots:   st.snapshots,
		Reporter:    observability.SentryReporter{},
		Logger:      log,
		Mint:        cfg.TokenMint,
		Wallet:      transferrer.Payer().String(),
		SettleDelay: settle,
	})

	if cfg.Schedule {
		s.scheduler = scheduler.New(s.orch, s.clock, scheduler.Config{
			Offset: cfg.ScheduleOffset,
			Logger: log,
		})
	}

	handler := api.NewServer(s.orch, s.clock, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		HealthChecks:   st.health,
		Logger:         log,
	})
	s.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	log.Info("service configured",
		"wallet", transferrer.Payer().String(),
		"mint", cfg.TokenMint,
		"period", cfg.CyclePeriod.String(),
		"pool_policy", string(policy),
		"schedule", cfg.Schedule,
		"memory", cfg.UseMemory,
		"snapshots", st.snapshots != nil,
	)
	if cfg.MintEmpty() {
		log.Warn("TOKEN_MINT is empty, distributions are disabled")
	}
	return s, nil
}

// Run serves HTTP and runs the scheduler until ctx is cancelled or either fails.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("listen and serve: %w", err)
		}
	}()
	s.log.Info("http listening", "address", s.cfg.HTTPAddr)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.log.Info("http stopping", "address", s.cfg.HTTPAddr)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			s.log.Info("http server shutdown complete")
			return nil
		case err := <-serveErrCh:
			return err
		}
	})

	if s.scheduler != nil {
		g.Go(func() error {
			return s.scheduler.Run(gctx)
		})
	}

	err := g.Wait()

	// Runs outlive the requests that started them. Let them record their outcome.
	s.log.Info("waiting for in-flight distribution")
	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer waitCancel()
	if werr := s.orch.Wait(waitCtx); werr != nil {
		s.log.Error("in-flight distribution did not finish", "error", werr)
		return errors.Join(err, werr)
	}
	return err
}

// Close releases connections in reverse order of creation.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

type stores struct {
	outcomes  storage.OutcomeStore
	locker    storage.CycleLocker
	snapshots storage.SnapshotStore
	health    map[string]api.HealthCheck
}

// createStores opens the configured backends. With USE_MEMORY state lives
// only as long as the process and the cycle lock is process-local.
func (s *Server) createStores(ctx context.Context) (*stores, error) {
	if s.cfg.UseMemory {
		s.log.Warn("using in-memory storage, outcomes are lost on restart")
		return &stores{
			outcomes:  memory.NewOutcomeStore(nil),
			locker:    memory.NewCycleLocker(),
			snapshots: memory.NewSnapshotStore(),
		}, nil
	}

	// PostgreSQL
	db, err := pgstore.OpenDB(ctx, s.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	err = migrations.Up(ctx, s.log, db, migrations.Postgres)
	_ = db.Close()
	if err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	pool, err := pgstore.NewPool(ctx, s.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	st := &stores{
		outcomes: pgstore.NewOutcomeStore(pool),
		locker:   pgstore.NewCycleLocker(pool),
		health: map[string]api.HealthCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		},
	}

	if s.cfg.ClickhouseDSN == "" {
		return st, nil
	}

	// ClickHouse
	if err := chstore.EnsureDatabase(ctx, s.cfg.ClickhouseDSN); err != nil {
		return nil, fmt.Errorf("create clickhouse database: %w", err)
	}
	chdb, err := chstore.OpenDB(s.cfg.ClickhouseDSN)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	err = migrations.Up(ctx, s.log, chdb, migrations.Clickhouse)
	_ = chdb.Close()
	if err != nil {
		return nil, fmt.Errorf("migrate clickhouse: %w", err)
	}
	conn, err := chstore.NewConn(ctx, s.cfg.ClickhouseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	s.closers = append(s.closers, func() { _ = conn.Close() })

	st.snapshots = chstore.NewSnapshotStore(conn)
	st.health["clickhouse"] = func(ctx context.Context) error { return conn.Ping(ctx) }
	return st, nil
}
