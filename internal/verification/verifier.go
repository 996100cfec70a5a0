// Package verification replays archived draws. It recomputes the weight
// table from a cycle's holder snapshot and checks that the recorded draw
// selects the recorded winner.
package verification

import (
	"context"
	"fmt"
	"math"
	"sort"

	solanago "github.com/gagliardetto/solana-go"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/selection"
)

// FloatTolerance is the tolerance for weight comparisons.
const FloatTolerance = 1e-9

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string // field name, with the row rank where relevant
	Expected any    // stored value
	Actual   any    // replayed value
}

// VerificationResult contains the result of verifying a single cycle.
type VerificationResult struct {
	CycleID        int64
	Match          bool // true if all fields match
	Divergences    []FieldDivergence
	StoredWinner   string // wallet on the outcome, or the selected snapshot row
	ReplayedWinner string // owner picked by replaying the draw
	Candidates     int
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalCycles     int // cycles with an archived snapshot
	MatchedCycles   int
	DivergentCycles int
	SkippedCycles   int // distributed cycles without a snapshot
	Results         []VerificationResult
}

// Verifier replays archived draws.
type Verifier interface {
	// VerifyCycle verifies the draw of one cycle.
	VerifyCycle(ctx context.Context, cycleID int64) (*VerificationResult, error)

	// VerifyRecent verifies every archived draw among the newest limit outcomes.
	VerifyRecent(ctx context.Context, limit int) (*VerificationReport, error)
}

// CompareDraw replays the draw stored in rows and compares it with the
// archived table and, when o names a recipient, with the recorded winner.
// rows may be in any order; o may be nil.
func CompareDraw(o *domain.Outcome, rows []*domain.HolderSnapshot) *VerificationResult {
	res := &VerificationResult{Candidates: len(rows)}
	if o != nil {
		res.CycleID = o.CycleID
	} else if len(rows) > 0 {
		res.CycleID = rows[0].CycleID
	}
	if len(rows) == 0 {
		res.Divergences = append(res.Divergences, FieldDivergence{Field: "Candidates", Expected: ">0", Actual: 0})
		return res
	}

	sorted := make([]*domain.HolderSnapshot, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	var divergences []FieldDivergence
	holders := make([]domain.Holder, len(sorted))
	selected := -1
	draw := sorted[0].Draw
	for i, r := range sorted {
		if int(r.Rank) != i {
			divergences = append(divergences, FieldDivergence{Field: rowField("Rank", i), Expected: i, Actual: r.Rank})
		}
		if r.Draw != draw {
			divergences = append(divergences, FieldDivergence{Field: rowField("Draw", i), Expected: draw, Actual: r.Draw})
		}
		if i > 0 && r.Balance > sorted[i-1].Balance {
			divergences = append(divergences, FieldDivergence{Field: rowField("Balance order", i), Expected: sorted[i-1].Balance, Actual: r.Balance})
		}
		if r.Selected {
			if selected >= 0 {
				divergences = append(divergences, FieldDivergence{Field: rowField("Selected", i), Expected: false, Actual: true})
			} else {
				selected = i
			}
		}
		owner, _ := solanago.PublicKeyFromBase58(r.Owner)
		holders[i] = domain.Holder{Owner: owner, Balance: r.Balance}
	}

	table := selection.Weigh(holders)
	for i, c := range table {
		if !floatEqual(c.Weight, sorted[i].Weight) {
			divergences = append(divergences, FieldDivergence{Field: rowField("Weight", i), Expected: sorted[i].Weight, Actual: c.Weight})
		}
		if !floatEqual(c.Cumulative, sorted[i].Cumulative) {
			divergences = append(divergences, FieldDivergence{Field: rowField("Cumulative", i), Expected: sorted[i].Cumulative, Actual: c.Cumulative})
		}
	}

	idx, err := selection.Pick(table, draw)
	if err != nil {
		divergences = append(divergences, FieldDivergence{Field: "Pick", Expected: "winner", Actual: err.Error()})
	} else {
		res.ReplayedWinner = sorted[idx].Owner
		if idx != selected {
			divergences = append(divergences, FieldDivergence{Field: "Selected rank", Expected: selected, Actual: idx})
		}
	}

	switch {
	case o != nil && o.HasRecipient():
		res.StoredWinner = o.Wallet
		if res.ReplayedWinner != o.Wallet {
			divergences = append(divergences, FieldDivergence{Field: "Wallet", Expected: o.Wallet, Actual: res.ReplayedWinner})
		}
	case selected >= 0:
		res.StoredWinner = sorted[selected].Owner
	}

	res.Divergences = divergences
	res.Match = len(divergences) == 0
	return res
}

func rowField(name string, rank int) string {
	return fmt.Sprintf("%s[%d]", name, rank)
}

// floatEqual compares two float64 values with tolerance.
func floatEqual(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}
