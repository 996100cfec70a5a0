package reporting

import "time"

// Report summarizes recorded distribution outcomes.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Period      time.Duration

	Summary Summary

	// Winners ranked by received lamports, then wins, then wallet
	TopWinners []WinnerRow

	// Outcomes sorted by cycle_id descending
	Outcomes []OutcomeRow

	// Failed cycles, newest first
	Failures []FailureRow
}

// Summary contains totals over the reported window.
type Summary struct {
	Cycles          int
	Distributed     int
	NoFees          int
	Failed          int
	DistinctWinners int

	TotalLamports   uint64
	AverageLamports uint64 // over distributed cycles
	LargestLamports uint64

	FirstCycle int64
	LastCycle  int64
	// MissedCycles counts cycles between FirstCycle and LastCycle with no outcome.
	MissedCycles int64

	FirstAt time.Time // distributed_at of FirstCycle
	LastAt  time.Time // distributed_at of LastCycle
}

// WinnerRow aggregates payouts received by one wallet.
type WinnerRow struct {
	Wallet   string
	Wins     int
	Lamports uint64
	LastWon  int64 // cycle id
}

// OutcomeRow is one recorded cycle.
type OutcomeRow struct {
	CycleID       int64
	CycleStart    time.Time
	Status        string
	Wallet        string
	Lamports      uint64
	Amount        float64
	Signature     string
	Error         string
	DistributedAt time.Time
}

// FailureRow lists a failed cycle and its reason.
type FailureRow struct {
	CycleID int64
	Error   string
}
