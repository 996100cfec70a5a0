package reporting

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"solana-holder-lottery/internal/domain"
)

// RenderCSV renders outcome rows as CSV string. Error texts may contain
// commas or quotes, so fields are quoted as needed.
func RenderCSV(rows []OutcomeRow) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	// Header
	_ = w.Write([]string{
		"cycle_id", "cycle_start", "status", "wallet", "lamports", "amount_sol",
		"signature", "error", "distributed_at",
	})

	// Rows
	for _, r := range rows {
		_ = w.Write([]string{
			strconv.FormatInt(r.CycleID, 10),
			r.CycleStart.UTC().Format(time.RFC3339),
			r.Status,
			r.Wallet,
			strconv.FormatUint(r.Lamports, 10),
			strconv.FormatFloat(r.Amount, 'f', 9, 64),
			r.Signature,
			r.Error,
			r.DistributedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Flush()
	return sb.String()
}

// RenderWinnersCSV renders the winner ranking as CSV string.
func RenderWinnersCSV(rows []WinnerRow) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	_ = w.Write([]string{"wallet", "wins", "lamports", "last_won_cycle"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.Wallet,
			strconv.Itoa(r.Wins),
			strconv.FormatUint(r.Lamports, 10),
			strconv.FormatInt(r.LastWon, 10),
		})
	}

	w.Flush()
	return sb.String()
}

// RenderSnapshotCSV renders the holder snapshot of one draw in rank order as given.
func RenderSnapshotCSV(rows []*domain.HolderSnapshot) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	_ = w.Write([]string{
		"cycle_id", "rank", "owner", "token_account", "balance", "weight",
		"cumulative", "selected", "draw", "recorded_at",
	})
	for _, r := range rows {
		_ = w.Write([]string{
			strconv.FormatInt(r.CycleID, 10),
			strconv.FormatUint(uint64(r.Rank), 10),
			r.Owner,
			r.TokenAccount,
			strconv.FormatUint(r.Balance, 10),
			strconv.FormatFloat(r.Weight, 'f', 9, 64),
			strconv.FormatFloat(r.Cumulative, 'f', 9, 64),
			strconv.FormatBool(r.Selected),
			strconv.FormatFloat(r.Draw, 'f', 9, 64),
			r.RecordedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Flush()
	return sb.String()
}
