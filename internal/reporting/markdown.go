package reporting

import (
	"fmt"
	"strings"
	"time"

	"solana-holder-lottery/internal/domain"
)

// maxMarkdownOutcomes bounds the outcome table; the CSV carries every row.
const maxMarkdownOutcomes = 50

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder
	s := r.Summary

	// Header
	sb.WriteString("# Distribution Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Cycle period: %s\n\n", r.Period))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Cycles Recorded | %d |\n", s.Cycles))
	sb.WriteString(fmt.Sprintf("| Distributed | %d |\n", s.Distributed))
	sb.WriteString(fmt.Sprintf("| No Fees | %d |\n", s.NoFees))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", s.Failed))
	sb.WriteString(fmt.Sprintf("| Missed Cycles | %d |\n", s.MissedCycles))
	sb.WriteString(fmt.Sprintf("| Distinct Winners | %d |\n", s.DistinctWinners))
	sb.WriteString(fmt.Sprintf("| Total Distributed (SOL) | %s |\n", sol(s.TotalLamports)))
	sb.WriteString(fmt.Sprintf("| Average Payout (SOL) | %s |\n", sol(s.AverageLamports)))
	sb.WriteString(fmt.Sprintf("| Largest Payout (SOL) | %s |\n", sol(s.LargestLamports)))
	if s.Cycles > 0 {
		sb.WriteString(fmt.Sprintf("| Cycle Range | %d..%d |\n", s.FirstCycle, s.LastCycle))
		sb.WriteString(fmt.Sprintf("| First Recorded | %s |\n", s.FirstAt.UTC().Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("| Last Recorded | %s |\n", s.LastAt.UTC().Format(time.RFC3339)))
	}
	sb.WriteString("\n")

	// Top Winners
	sb.WriteString("## Top Winners\n\n")
	if len(r.TopWinners) > 0 {
		sb.WriteString("| Wallet | Wins | Received (SOL) | Last Cycle |\n")
		sb.WriteString("|--------|------|----------------|------------|\n")
		for _, w := range r.TopWinners {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %d |\n", w.Wallet, w.Wins, sol(w.Lamports), w.LastWon))
		}
	} else {
		sb.WriteString("No distributions recorded.\n")
	}
	sb.WriteString("\n")

	// Recent Outcomes
	sb.WriteString("## Recent Outcomes\n\n")
	if len(r.Outcomes) > 0 {
		sb.WriteString("| Cycle | Start (UTC) | Status | Wallet | SOL | Signature |\n")
		sb.WriteString("|-------|-------------|--------|--------|-----|-----------|\n")
		for i, o := range r.Outcomes {
			if i == maxMarkdownOutcomes {
				sb.WriteString(fmt.Sprintf("\n_%d older outcomes omitted._\n", len(r.Outcomes)-maxMarkdownOutcomes))
				break
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %.9f | %s |\n",
				o.CycleID, o.CycleStart.Format("2006-01-02 15:04"), o.Status, o.Wallet, o.Amount, o.Signature))
		}
	} else {
		sb.WriteString("No outcomes recorded.\n")
	}
	sb.WriteString("\n")

	// Failures
	if len(r.Failures) > 0 {
		sb.WriteString("## Failures\n\n")
		for _, f := range r.Failures {
			sb.WriteString(fmt.Sprintf("- cycle %d: %s\n", f.CycleID, escapeMarkdown(f.Error)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func sol(lamports uint64) string {
	return fmt.Sprintf("%.9f", domain.LamportsToSOL(int64(lamports)))
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
}
