package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/storage"
)

// DefaultLimit is the number of recent outcomes a report covers.
const DefaultLimit = 1000

// Generator produces reports from stored outcomes.
type Generator struct {
	outcomes storage.OutcomeStore
	period   time.Duration
	limit    int
	now      func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator over the newest limit outcomes.
func NewGenerator(outcomes storage.OutcomeStore, period time.Duration, limit int) *Generator {
	if period <= 0 {
		period = cycle.DefaultPeriod
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Generator{
		outcomes: outcomes,
		period:   period,
		limit:    limit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate loads recent outcomes and builds the report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	outcomes, err := g.outcomes.Recent(ctx, g.limit)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	return Build(outcomes, g.period, g.now()), nil
}

// Build computes a report from outcomes in any order.
func Build(outcomes []*domain.Outcome, period time.Duration, generatedAt time.Time) *Report {
	sorted := make([]*domain.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o != nil {
			sorted = append(sorted, o)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CycleID > sorted[j].CycleID
	})

	return &Report{
		GeneratedAt: generatedAt,
		Period:      period,
		Summary:     summarize(sorted),
		TopWinners:  rankWinners(sorted),
		Outcomes:    outcomeRows(sorted, period),
		Failures:    failureRows(sorted),
	}
}

// summarize expects outcomes sorted by cycle descending.
func summarize(outcomes []*domain.Outcome) Summary {
	var s Summary
	if len(outcomes) == 0 {
		return s
	}

	winners := make(map[string]struct{})
	cycles := make(map[int64]struct{}, len(outcomes))
	for _, o := range outcomes {
		s.Cycles++
		cycles[o.CycleID] = struct{}{}
		switch o.Status {
		case domain.OutcomeStatusDistributed:
			s.Distributed++
			s.TotalLamports += o.Lamports
			if o.Lamports > s.LargestLamports {
				s.LargestLamports = o.Lamports
			}
			if o.HasRecipient() {
				winners[o.Wallet] = struct{}{}
			}
		case domain.OutcomeStatusNoFees:
			s.NoFees++
		case domain.OutcomeStatusFailed:
			s.Failed++
		}
	}

	if s.Distributed > 0 {
		s.AverageLamports = s.TotalLamports / uint64(s.Distributed)
	}
	s.DistinctWinners = len(winners)

	newest, oldest := outcomes[0], outcomes[len(outcomes)-1]
	s.FirstCycle, s.LastCycle = oldest.CycleID, newest.CycleID
	s.FirstAt, s.LastAt = oldest.DistributedAt, newest.DistributedAt
	s.MissedCycles = s.LastCycle - s.FirstCycle + 1 - int64(len(cycles))
	return s
}

func rankWinners(outcomes []*domain.Outcome) []WinnerRow {
	byWallet := make(map[string]*WinnerRow)
	for _, o := range outcomes {
		if o.Status != domain.OutcomeStatusDistributed || !o.HasRecipient() {
			continue
		}
		row, ok := byWallet[o.Wallet]
		if !ok {
			row = &WinnerRow{Wallet: o.Wallet}
			byWallet[o.Wallet] = row
		}
		row.Wins++
		row.Lamports += o.Lamports
		if o.CycleID > row.LastWon {
			row.LastWon = o.CycleID
		}
	}

	rows := make([]WinnerRow, 0, len(byWallet))
	for _, row := range byWallet {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Lamports != rows[j].Lamports {
			return rows[i].Lamports > rows[j].Lamports
		}
		if rows[i].Wins != rows[j].Wins {
			return rows[i].Wins > rows[j].Wins
		}
		return rows[i].Wallet < rows[j].Wallet
	})
	return rows
}

func outcomeRows(outcomes []*domain.Outcome, period time.Duration) []OutcomeRow {
	rows := make([]OutcomeRow, len(outcomes))
	for i, o := range outcomes {
		rows[i] = OutcomeRow{
			CycleID:       o.CycleID,
			CycleStart:    cycle.ForID(o.CycleID, period).Start,
			Status:        o.Status.String(),
			Wallet:        o.Wallet,
			Lamports:      o.Lamports,
			Amount:        o.Amount,
			Signature:     deref(o.Signature),
			Error:         deref(o.Error),
			DistributedAt: o.DistributedAt,
		}
	}
	return rows
}

func failureRows(outcomes []*domain.Outcome) []FailureRow {
	var rows []FailureRow
	for _, o := range outcomes {
		if o.Status == domain.OutcomeStatusFailed {
			rows = append(rows, FailureRow{CycleID: o.CycleID, Error: deref(o.Error)})
		}
	}
	return rows
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
