package api

import (
	"encoding/json"
	"time"

	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/orchestrator"
)

// isoMillis is the timestamp layout the front-end countdown parses.
const isoMillis = "2006-01-02T15:04:05.000Z"

// TimeInfo is merged into every response.
type TimeInfo struct {
	ServerTime           string `json:"serverTime"`
	SecondsUntilNext     int64  `json:"secondsUntilNext"`
	NextDistributionTime string `json:"nextDistributionTime"`
	LastDistributionTime string `json:"lastDistributionTime"`
	CurrentCycle         int64  `json:"currentCycle"`
	CurrentMinute        int    `json:"currentMinute"`
	TokenMintEmpty       bool   `json:"tokenMintEmpty"`
}

func newTimeInfo(info cycle.Info, mintEmpty bool) TimeInfo {
	return TimeInfo{
		ServerTime:           formatTime(info.Now),
		SecondsUntilNext:     info.SecondsRemaining,
		NextDistributionTime: formatTime(info.End),
		LastDistributionTime: formatTime(info.Start),
		CurrentCycle:         info.ID,
		CurrentMinute:        info.Minute(),
		TokenMintEmpty:       mintEmpty,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// DistributionResponse is returned by a trigger that ran the cycle to completion.
type DistributionResponse struct {
	Success           bool              `json:"success"`
	CycleID           int64             `json:"cycleId"`
	ClaimResult       json.RawMessage   `json:"claimResult"`
	Recipient         *string           `json:"recipient"`
	BalanceBefore     float64           `json:"balanceBefore"`
	BalanceAfter      float64           `json:"balanceAfter"`
	ClaimedFromFees   float64           `json:"claimedFromFees"`
	ForwardedLamports uint64            `json:"forwardedLamports"`
	ForwardedSOL      float64           `json:"forwardedSOL"`
	TxSignature       *string           `json:"txSignature"`
	Winner            *domain.Outcome   `json:"winner"`
	Winners           []*domain.Outcome `json:"winners"`
	TimeInfo
}

// SkippedResponse is returned when the trigger did nothing: no mint configured,
// or the cycle already handled.
type SkippedResponse struct {
	Success              bool              `json:"success"`
	Error                string            `json:"error"`
	ExistingDistribution *domain.Outcome   `json:"existingDistribution,omitempty"`
	Winners              []*domain.Outcome `json:"winners"`
	TimeInfo
}

// ErrorResponse is returned with a 5xx status.
type ErrorResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Winner  *domain.Outcome `json:"winner,omitempty"` // failed outcome, if one was recorded
	TimeInfo
}

// StatusResponse is the read-only winners view.
type StatusResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Winners []*domain.Outcome `json:"winners"`
	TimeInfo
}

func newDistributionResponse(res *orchestrator.RunResult) DistributionResponse {
	resp := DistributionResponse{
		Success:           true,
		CycleID:           res.Cycle.ID,
		ClaimResult:       res.ClaimResult,
		BalanceBefore:     domain.LamportsToSOL(int64(res.BalanceBefore)),
		BalanceAfter:      domain.LamportsToSOL(int64(res.BalanceAfter)),
		ClaimedFromFees:   domain.LamportsToSOL(res.Delta),
		ForwardedLamports: res.ForwardedLamports(),
		ForwardedSOL:      domain.LamportsToSOL(int64(res.ForwardedLamports())),
		Winner:            res.Outcome,
		Winners:           orEmpty(res.Recent),
		TimeInfo:          newTimeInfo(res.Cycle, false),
	}
	if r := res.Recipient(); r != "" {
		resp.Recipient = &r
	}
	if s := res.Signature(); s != "" {
		resp.TxSignature = &s
	}
	return resp
}

func orEmpty(outcomes []*domain.Outcome) []*domain.Outcome {
	if outcomes == nil {
		return []*domain.Outcome{}
	}
	return outcomes
}
