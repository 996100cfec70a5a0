// Package main renders the winners report: a Markdown summary plus CSV
// exports of recent outcomes and the winner ranking.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"

	"solana-holder-lottery/internal/config"
	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/logger"
	"solana-holder-lottery/internal/reporting"
	"solana-holder-lottery/internal/selection"
	"solana-holder-lottery/internal/storage"
	chstore "solana-holder-lottery/internal/storage/clickhouse"
	"solana-holder-lottery/internal/storage/memory"
	pgstore "solana-holder-lottery/internal/storage/postgres"
	"solana-holder-lottery/internal/verification"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// Parse flags
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	limit := flag.Int("limit", reporting.DefaultLimit, "Number of recent outcomes to cover")
	snapshotCycle := flag.Int64("snapshot-cycle", 0, "Also export the holder snapshot of this cycle (requires --clickhouse-dsn)")
	verify := flag.Bool("verify", false, "Replay archived draws and write VERIFICATION.md (requires snapshots)")
	useFixtures := flag.Bool("use-fixtures", false, "Use in-memory fixtures instead of database")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string (or POSTGRES_DSN)")
	flag.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (or CLICKHOUSE_DSN)")
	flag.DurationVar(&cfg.CyclePeriod, "cycle-period", cfg.CyclePeriod, "distribution period (or CYCLE_PERIOD)")
	flag.Parse()

	log := logger.New(cfg.Verbose)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Validate flags
	if !*useFixtures && cfg.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn is required when not using fixtures")
		fmt.Fprintln(os.Stderr, "Use --use-fixtures to run with demo data instead")
		os.Exit(1)
	}

	var (
		outcomes  storage.OutcomeStore
		snapshots storage.SnapshotStore
	)
	if *useFixtures {
		outcomes, snapshots = loadFixtures(ctx, cfg.CyclePeriod)
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		outcomes = pgstore.NewOutcomeStore(pool)

		if (*snapshotCycle > 0 || *verify) && cfg.ClickhouseDSN != "" {
			conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
			if err != nil {
				log.Error("connect to clickhouse", "error", err)
				os.Exit(1)
			}
			defer conn.Close()
			snapshots = chstore.NewSnapshotStore(conn)
		}
	}

	report, err := reporting.NewGenerator(outcomes, cfg.CyclePeriod, *limit).Generate(ctx)
	if err != nil {
		log.Error("generate report", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Error("create output dir", "error", err)
		os.Exit(1)
	}

	files := map[string]string{
		"REPORT.md":    reporting.RenderMarkdown(report),
		"outcomes.csv": reporting.RenderCSV(report.Outcomes),
		"winners.csv":  reporting.RenderWinnersCSV(report.TopWinners),
	}

	if *snapshotCycle > 0 {
		if snapshots == nil {
			log.Warn("snapshot export skipped, no clickhouse connection", "cycle", *snapshotCycle)
		} else {
			rows, err := snapshots.GetByCycle(ctx, *snapshotCycle)
			if err != nil {
				log.Error("load snapshot", "cycle", *snapshotCycle, "error", err)
				os.Exit(1)
			}
			files["snapshot_"+strconv.FormatInt(*snapshotCycle, 10)+".csv"] = reporting.RenderSnapshotCSV(rows)
		}
	}

	if *verify {
		if snapshots == nil {
			log.Warn("verification skipped, no clickhouse connection")
		} else {
			vr, err := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
				Outcomes:  outcomes,
				Snapshots: snapshots,
			}).VerifyRecent(ctx, *limit)
			if err != nil {
				log.Error("verify draws", "error", err)
				os.Exit(1)
			}
			if vr.DivergentCycles > 0 {
				log.Warn("draw verification found divergences", "divergent", vr.DivergentCycles, "verified", vr.TotalCycles)
			}
			files["VERIFICATION.md"] = verification.RenderMarkdown(vr)
		}
	}

	fmt.Println("Report generated successfully:")
	for name, body := range files {
		path := filepath.Join(*outputDir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			log.Error("write file", "path", path, "error", err)
			os.Exit(1)
		}
		fmt.Printf("  - %s\n", path)
	}
}

// loadFixtures fills memory stores with a day of demo cycles. Draws run
// through a seeded selector so the archived snapshots replay exactly.
func loadFixtures(ctx context.Context, period time.Duration) (storage.OutcomeStore, storage.SnapshotStore) {
	outcomes := memory.NewOutcomeStore(nil)
	snapshots := memory.NewSnapshotStore()
	if period <= 0 {
		period = cycle.DefaultPeriod
	}

	mint := solanago.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	holders := make([]domain.Holder, 4)
	for i := range holders {
		var raw [32]byte
		raw[0], raw[31] = byte(i+1), 0xA5
		key := solanago.PublicKeyFromBytes(raw[:])
		holders[i] = domain.Holder{Owner: key, TokenAccount: key, Balance: uint64(1_000_000 * (len(holders) - i))}
	}
	selector := selection.NewSelector(nil, solanago.PublicKey{},
		selection.WithPoolPolicy(selection.PoolPolicyNone),
		selection.WithRand(rand.New(rand.NewPCG(4, 1))))

	first := cycle.Current(time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC), period).ID
	n := int64(24 * time.Hour / period)

	for i := int64(0); i < n; i++ {
		id := first + i
		info := cycle.ForID(id, period)
		o := &domain.Outcome{
			ID:            "fixture-" + strconv.FormatInt(id, 10),
			CycleID:       id,
			DistributedAt: info.Start.Add(15 * time.Second),
		}
		switch {
		case i%17 == 5:
			// missed cycle
			continue
		case i%11 == 3:
			msg := "claiming: status 502"
			o.Status = domain.OutcomeStatusFailed
			o.Wallet = domain.FailedWinnerWallet
			o.Error = &msg
		case i%3 == 0:
			o.Status = domain.OutcomeStatusNoFees
			o.Wallet = domain.NoWinnerWallet
		default:
			res, err := selector.Draw(holders)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error drawing fixtures: %v\n", err)
				os.Exit(1)
			}
			if err := snapshots.InsertBulk(ctx, res.Snapshots(id, mint, o.DistributedAt)); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading fixtures: %v\n", err)
				os.Exit(1)
			}
			sig := "fixture-sig-" + strconv.FormatInt(id, 10)
			o.Status = domain.OutcomeStatusDistributed
			o.Wallet = res.Winner.String()
			o.Lamports = uint64(1_000_000 + (i%7)*750_000)
			o.Amount = domain.LamportsToSOL(int64(o.Lamports))
			o.Signature = &sig
		}
		if err := outcomes.Insert(ctx, o); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading fixtures: %v\n", err)
			os.Exit(1)
		}
	}
	return outcomes, snapshots
}
