package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/selection"
	"solana-holder-lottery/internal/storage/memory"
)

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

func newKey() solanago.PublicKey {
	return solanago.NewWallet().PublicKey()
}

// drawRows runs a real draw over holders and returns the archived rows and winner.
func drawRows(t *testing.T, cycleID int64, r float64, balances ...uint64) ([]*domain.HolderSnapshot, string) {
	t.Helper()
	holders := make([]domain.Holder, len(balances))
	for i, b := range balances {
		holders[i] = domain.Holder{Owner: newKey(), TokenAccount: newKey(), Balance: b}
	}
	sel := selection.NewSelector(nil, solanago.PublicKey{},
		selection.WithPoolPolicy(selection.PoolPolicyNone),
		selection.WithRand(fixedRand(r)))
	res, err := sel.Draw(holders)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	at := time.Date(2025, 1, 4, 12, 0, 10, 0, time.UTC)
	return res.Snapshots(cycleID, newKey(), at), res.Winner.String()
}

func distributed(cycleID int64, wallet string) *domain.Outcome {
	sig := "sig"
	return &domain.Outcome{
		ID:        fmt.Sprintf("o%d", cycleID),
		CycleID:   cycleID,
		Status:    domain.OutcomeStatusDistributed,
		Wallet:    wallet,
		Lamports:  1_000_000,
		Signature: &sig,
	}
}

func TestCompareDraw_Match(t *testing.T) {
	rows, winner := drawRows(t, 10, 0.75, 700, 200, 100)

	res := CompareDraw(distributed(10, winner), rows)
	if !res.Match {
		t.Fatalf("Expected match, got divergences: %+v", res.Divergences)
	}
	if res.ReplayedWinner != winner || res.StoredWinner != winner {
		t.Errorf("Expected winner %s, got replayed %s stored %s", winner, res.ReplayedWinner, res.StoredWinner)
	}
	if res.Candidates != 3 {
		t.Errorf("Expected 3 candidates, got %d", res.Candidates)
	}
}

func TestCompareDraw_RowOrderIgnored(t *testing.T) {
	rows, winner := drawRows(t, 10, 0.2, 500, 300, 200)
	rows[0], rows[2] = rows[2], rows[0]

	if res := CompareDraw(distributed(10, winner), rows); !res.Match {
		t.Fatalf("Expected match over shuffled rows, got %+v", res.Divergences)
	}
}

func TestCompareDraw_WalletMismatch(t *testing.T) {
	rows, _ := drawRows(t, 10, 0.1, 900, 100)
	other := newKey().String()

	res := CompareDraw(distributed(10, other), rows)
	if res.Match {
		t.Fatal("Expected divergence")
	}
	found := false
	for _, d := range res.Divergences {
		if d.Field == "Wallet" {
			found = true
			if d.Expected != other {
				t.Errorf("Expected stored wallet %s, got %v", other, d.Expected)
			}
		}
	}
	if !found {
		t.Errorf("Expected Wallet divergence, got %+v", res.Divergences)
	}
}

func TestCompareDraw_TamperedWeight(t *testing.T) {
	rows, winner := drawRows(t, 10, 0.5, 600, 400)
	rows[1].Weight = 0.5

	res := CompareDraw(distributed(10, winner), rows)
	if res.Match {
		t.Fatal("Expected divergence")
	}
	if res.Divergences[0].Field != "Weight[1]" {
		t.Errorf("Expected Weight[1] divergence, got %+v", res.Divergences)
	}
}

func TestCompareDraw_SelectedFlagWrong(t *testing.T) {
	rows, _ := drawRows(t, 10, 0.05, 800, 200)
	rows[0].Selected, rows[1].Selected = false, true

	res := CompareDraw(nil, rows)
	if res.Match {
		t.Fatal("Expected divergence")
	}
	if res.StoredWinner != rows[1].Owner {
		t.Errorf("Expected stored winner from selected row, got %s", res.StoredWinner)
	}
}

func TestCompareDraw_FailedOutcomeUsesSelectedRow(t *testing.T) {
	rows, winner := drawRows(t, 10, 0.9, 500, 500)
	msg := "transfer failed"
	o := &domain.Outcome{CycleID: 10, Status: domain.OutcomeStatusFailed, Wallet: domain.FailedWinnerWallet, Error: &msg}

	res := CompareDraw(o, rows)
	if !res.Match {
		t.Fatalf("Expected match, got %+v", res.Divergences)
	}
	if res.StoredWinner != winner {
		t.Errorf("Expected stored winner %s, got %s", winner, res.StoredWinner)
	}
}

func TestCompareDraw_Empty(t *testing.T) {
	if res := CompareDraw(distributed(1, newKey().String()), nil); res.Match {
		t.Error("Expected empty snapshot to diverge")
	}
}

func TestReplayVerifier_VerifyCycle(t *testing.T) {
	ctx := context.Background()
	outcomes := memory.NewOutcomeStore(nil)
	snapshots := memory.NewSnapshotStore()

	rows, winner := drawRows(t, 42, 0.3, 100, 50, 25)
	if err := snapshots.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if err := outcomes.Insert(ctx, distributed(42, winner)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	v := NewReplayVerifier(ReplayVerifierOptions{Outcomes: outcomes, Snapshots: snapshots})

	res, err := v.VerifyCycle(ctx, 42)
	if err != nil {
		t.Fatalf("VerifyCycle failed: %v", err)
	}
	if !res.Match || res.CycleID != 42 {
		t.Errorf("unexpected result: %+v", res)
	}

	if _, err := v.VerifyCycle(ctx, 43); !errors.Is(err, ErrOutcomeNotFound) {
		t.Errorf("Expected ErrOutcomeNotFound, got %v", err)
	}

	if err := outcomes.Insert(ctx, distributed(44, winner)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := v.VerifyCycle(ctx, 44); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestReplayVerifier_VerifyRecent(t *testing.T) {
	ctx := context.Background()
	outcomes := memory.NewOutcomeStore(nil)
	snapshots := memory.NewSnapshotStore()

	// cycle 1: archived and consistent
	rows1, w1 := drawRows(t, 1, 0.4, 70, 20, 10)
	// cycle 2: archived but recorded winner differs
	rows2, _ := drawRows(t, 2, 0.4, 70, 20, 10)
	for _, rows := range [][]*domain.HolderSnapshot{rows1, rows2} {
		if err := snapshots.InsertBulk(ctx, rows); err != nil {
			t.Fatalf("InsertBulk failed: %v", err)
		}
	}

	for _, o := range []*domain.Outcome{
		distributed(1, w1),
		distributed(2, newKey().String()),
		distributed(3, newKey().String()), // no snapshot
		{ID: "nf", CycleID: 4, Status: domain.OutcomeStatusNoFees, Wallet: domain.NoWinnerWallet},
	} {
		if err := outcomes.Insert(ctx, o); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	report, err := NewReplayVerifier(ReplayVerifierOptions{Outcomes: outcomes, Snapshots: snapshots}).
		VerifyRecent(ctx, 10)
	if err != nil {
		t.Fatalf("VerifyRecent failed: %v", err)
	}

	if report.TotalCycles != 2 {
		t.Errorf("Expected 2 verified cycles, got %d", report.TotalCycles)
	}
	if report.MatchedCycles != 1 || report.DivergentCycles != 1 {
		t.Errorf("Expected 1 matched and 1 divergent, got %d/%d", report.MatchedCycles, report.DivergentCycles)
	}
	if report.SkippedCycles != 1 {
		t.Errorf("Expected 1 skipped, got %d", report.SkippedCycles)
	}
}

func TestRenderMarkdown(t *testing.T) {
	rows, _ := drawRows(t, 9, 0.1, 900, 100)
	bad := CompareDraw(distributed(9, "someone-else"), rows)

	md := RenderMarkdown(&VerificationReport{
		TotalCycles:     2,
		MatchedCycles:   1,
		DivergentCycles: 1,
		Results:         []VerificationResult{*bad},
	})
	for _, want := range []string{"# Draw Verification", "| Divergent | 1 |", "## Divergences", "| 9 | Wallet | someone-else |"} {
		if !strings.Contains(md, want) {
			t.Errorf("Missing %q in:\n%s", want, md)
		}
	}

	clean := RenderMarkdown(&VerificationReport{TotalCycles: 1, MatchedCycles: 1})
	if !strings.Contains(clean, "All archived draws replay") {
		t.Errorf("Expected clean summary, got:\n%s", clean)
	}
}
