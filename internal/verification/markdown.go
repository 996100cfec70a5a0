package verification

import (
	"fmt"
	"strings"
)

// RenderMarkdown renders a verification report as Markdown string.
func RenderMarkdown(r *VerificationReport) string {
	var sb strings.Builder

	sb.WriteString("# Draw Verification\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Verified Cycles | %d |\n", r.TotalCycles))
	sb.WriteString(fmt.Sprintf("| Matched | %d |\n", r.MatchedCycles))
	sb.WriteString(fmt.Sprintf("| Divergent | %d |\n", r.DivergentCycles))
	sb.WriteString(fmt.Sprintf("| Without Snapshot | %d |\n", r.SkippedCycles))
	sb.WriteString("\n")

	if r.DivergentCycles == 0 {
		sb.WriteString("All archived draws replay to the recorded winner.\n")
		return sb.String()
	}

	sb.WriteString("## Divergences\n\n")
	sb.WriteString("| Cycle | Field | Stored | Replayed |\n")
	sb.WriteString("|-------|-------|--------|----------|\n")
	for _, res := range r.Results {
		for _, d := range res.Divergences {
			sb.WriteString(fmt.Sprintf("| %d | %s | %v | %v |\n", res.CycleID, d.Field, d.Expected, d.Actual))
		}
	}
	return sb.String()
}
