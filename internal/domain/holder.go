package domain

import (
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// Holder is a snapshot of one SPL token account of the tracked mint.
type Holder struct {
	Owner        solanago.PublicKey // wallet controlling the token account
	TokenAccount solanago.PublicKey // token account address
	Balance      uint64             // raw base units
}

// HolderSnapshot is one eligible candidate as it stood when a cycle drew its winner.
// Corresponds to holder_snapshots table in ClickHouse.
type HolderSnapshot struct {
	CycleID      int64
	Mint         string
	Owner        string
	TokenAccount string
	Balance      uint64
	Weight       float64 // share of eligible supply
	Cumulative   float64 // running sum of weights in selection order
	Rank         uint32  // position in selection order, 0-based
	Selected     bool
	Draw         float64 // random value used for the cycle
	RecordedAt   time.Time
}
