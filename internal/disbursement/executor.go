// Package disbursement forwards claimed fees to a selected holder.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"

	"solana-holder-lottery/internal/selection"
	"solana-holder-lottery/internal/solana"
)

// Amount thresholds in lamports.
const (
	// DefaultReserveThreshold is the smallest balance increase worth acting on.
	DefaultReserveThreshold int64 = 5000
	// DefaultFeeReserve is kept back to pay for the transfer and future claims.
	DefaultFeeReserve int64 = 5_000_000
)

// Selector picks a winning holder.
type Selector interface {
	Select(ctx context.Context, mint solanago.PublicKey) (*selection.Result, error)
}

// Transferrer sends a native SOL transfer and waits for confirmation.
type Transferrer interface {
	Transfer(ctx context.Context, recipient solanago.PublicKey, lamports uint64) (solanago.Signature, error)
}

// Result of a disbursement. A zero Result means nothing was sent.
type Result struct {
	Recipient *solanago.PublicKey
	Lamports  uint64
	Signature *solanago.Signature
	Selection *selection.Result
}

// Sent reports whether a transfer was confirmed.
func (r *Result) Sent() bool {
	return r != nil && r.Signature != nil
}

// TransferError reports a failed or unconfirmed transfer to a selected winner.
type TransferError struct {
	Recipient solanago.PublicKey
	Lamports  uint64
	Signature *solanago.Signature // set if the transaction was submitted
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %d lamports to %s: %v", e.Lamports, e.Recipient, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Config configures an Executor.
type Config struct {
	Mint             solanago.PublicKey
	ReserveThreshold int64
	FeeReserve       int64
	Logger           *slog.Logger
}

// Executor decides the payout amount, selects a winner and sends the transfer.
type Executor struct {
	selector    Selector
	transferrer Transferrer
	mint        solanago.PublicKey
	threshold   int64
	reserve     int64
	log         *slog.Logger
}

// NewExecutor creates an Executor. Zero thresholds take the defaults.
func NewExecutor(selector Selector, transferrer Transferrer, cfg Config) *Executor {
	if cfg.ReserveThreshold <= 0 {
		cfg.ReserveThreshold = DefaultReserveThreshold
	}
	if cfg.FeeReserve <= 0 {
		cfg.FeeReserve = DefaultFeeReserve
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		selector:    selector,
		transferrer: transferrer,
		mint:        cfg.Mint,
		threshold:   cfg.ReserveThreshold,
		reserve:     cfg.FeeReserve,
		log:         cfg.Logger.With("component", "disbursement"),
	}
}

// Plan returns the lamports to forward for a balance increase of delta.
// Increases at or below the threshold, or not exceeding the reserve, yield zero.
func (e *Executor) Plan(delta int64) uint64 {
	if delta <= e.threshold {
		return 0
	}
	amount := delta - e.reserve
	if amount <= 0 {
		return 0
	}
	return uint64(amount)
}

// Disburse forwards the planned amount for delta to a weighted random holder.
// Selection errors are returned unwrapped; transfer failures are *TransferError.
func (e *Executor) Disburse(ctx context.Context, delta int64) (*Result, error) {
	amount := e.Plan(delta)
	if amount == 0 {
		e.log.Info("nothing to disburse", "delta", delta, "threshold", e.threshold, "reserve", e.reserve)
		return &Result{}, nil
	}

	sel, err := e.selector.Select(ctx, e.mint)
	if err != nil {
		return &Result{}, err
	}
	winner := sel.Winner

	res := &Result{Recipient: &winner, Lamports: amount, Selection: sel}
	e.log.Info("winner selected", "winner", winner.String(), "weight", sel.Weight, "candidates", len(sel.Candidates), "lamports", amount)

	sig, err := e.transferrer.Transfer(ctx, winner, amount)
	if err != nil {
		terr := &TransferError{Recipient: winner, Lamports: amount, Err: err}
		var submitErr *solana.SubmitError
		if errors.As(err, &submitErr) {
			s := submitErr.Signature
			terr.Signature = &s
		}
		return res, terr
	}

	res.Signature = &sig
	return res, nil
}
