package verification

import (
	"context"
	"errors"
	"fmt"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/storage"
)

var (
	// ErrOutcomeNotFound is returned when no outcome is recorded for the cycle.
	ErrOutcomeNotFound = errors.New("outcome not found")

	// ErrSnapshotNotFound is returned when the cycle has no archived snapshot.
	ErrSnapshotNotFound = errors.New("holder snapshot not found")
)

// ReplayVerifier implements Verifier over the outcome and snapshot stores.
type ReplayVerifier struct {
	outcomes  storage.OutcomeStore
	snapshots storage.SnapshotStore
}

var _ Verifier = (*ReplayVerifier)(nil)

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Outcomes  storage.OutcomeStore
	Snapshots storage.SnapshotStore
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		outcomes:  opts.Outcomes,
		snapshots: opts.Snapshots,
	}
}

// VerifyCycle verifies a single cycle by replaying its archived draw.
func (v *ReplayVerifier) VerifyCycle(ctx context.Context, cycleID int64) (*VerificationResult, error) {
	// 1. Load stored outcome
	o, err := v.outcomes.GetByCycle(ctx, cycleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOutcomeNotFound
		}
		return nil, err
	}

	// 2. Load snapshot
	rows, err := v.snapshots.GetByCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrSnapshotNotFound
	}

	// 3. Replay and compare
	return CompareDraw(o, rows), nil
}

// VerifyRecent verifies the newest limit outcomes. Cycles that never drew a
// winner are ignored; distributed cycles without a snapshot count as skipped
// since archiving is best-effort.
func (v *ReplayVerifier) VerifyRecent(ctx context.Context, limit int) (*VerificationReport, error) {
	outcomes, err := v.outcomes.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}

	report := &VerificationReport{}
	for _, o := range outcomes {
		if o.Status == domain.OutcomeStatusNoFees {
			continue
		}
		rows, err := v.snapshots.GetByCycle(ctx, o.CycleID)
		if err != nil {
			return nil, fmt.Errorf("load snapshot of cycle %d: %w", o.CycleID, err)
		}
		if len(rows) == 0 {
			if o.Status == domain.OutcomeStatusDistributed {
				report.SkippedCycles++
			}
			continue
		}

		res := CompareDraw(o, rows)
		report.TotalCycles++
		if res.Match {
			report.MatchedCycles++
		} else {
			report.DivergentCycles++
		}
		report.Results = append(report.Results, *res)
	}
	return report, nil
}
