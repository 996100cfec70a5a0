package domain

import "time"

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Wallet sentinels stored when a cycle produced no recipient.
const (
	NoWinnerWallet     = "No winner (no fees)"
	FailedWinnerWallet = "No winner (distribution failed)"
)

// OutcomeStatus describes how a cycle ended.
type OutcomeStatus string

const (
	OutcomeStatusDistributed OutcomeStatus = "distributed"
	OutcomeStatusNoFees      OutcomeStatus = "no_fees"
	OutcomeStatusFailed      OutcomeStatus = "failed"
)

// String returns the string representation of OutcomeStatus.
func (s OutcomeStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s OutcomeStatus) IsValid() bool {
	switch s {
	case OutcomeStatusDistributed, OutcomeStatusNoFees, OutcomeStatusFailed:
		return true
	}
	return false
}

// Outcome is the persisted result of one distribution cycle.
// Corresponds to the winners table in PostgreSQL. One row per cycle_id, never updated.
type Outcome struct {
	ID            string        `json:"id"`             // deterministic hash of mint|cycle_id
	Wallet        string        `json:"wallet"`         // recipient base58 or a sentinel
	Amount        float64       `json:"amount"`         // SOL sent
	Lamports      uint64        `json:"lamports"`       // raw amount sent
	Signature     *string       `json:"signature"`      // transfer signature (nullable)
	CycleID       int64         `json:"cycle_id"`       // cycle identifier, unique
	Status        OutcomeStatus `json:"status"`         // distributed | no_fees | failed
	Error         *string       `json:"error"`          // failure reason (nullable)
	DistributedAt time.Time     `json:"distributed_at"` // set by the orchestrator
	CreatedAt     time.Time     `json:"created_at"`     // insertion timestamp, set by the store
}

// HasRecipient reports whether the outcome names a real recipient.
func (o *Outcome) HasRecipient() bool {
	return o.Wallet != NoWinnerWallet && o.Wallet != FailedWinnerWallet && o.Wallet != ""
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports int64) float64 {
	return float64(lamports) / LamportsPerSOL
}
