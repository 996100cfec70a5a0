// Package orchestrator runs distribution cycles.
// Flow: config check → cycle check → claim → settle → measure → disburse → record
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/singleflight"

	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/disbursement"
	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/feeclaim"
	"solana-holder-lottery/internal/idhash"
	"solana-holder-lottery/internal/observability"
	"solana-holder-lottery/internal/storage"
)

// Defaults for Options.
const (
	DefaultSettleDelay     = 10 * time.Second
	DefaultLedgerTimeout   = 15 * time.Second
	DefaultClaimTimeout    = 35 * time.Second
	DefaultDisburseTimeout = 2 * time.Minute
	DefaultStoreTimeout    = 10 * time.Second
	DefaultRecentLimit     = 20
)

// BalanceReader reads the lamport balance of an address.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// Disburser forwards a measured balance increase to a holder.
type Disburser interface {
	Disburse(ctx context.Context, delta int64) (*disbursement.Result, error)
}

// Reporter receives run failures, e.g. for error tracking.
type Reporter interface {
	Report(ctx context.Context, cycleID int64, step string, err error)
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Clock     *cycle.Clock
	Ledger    BalanceReader
	Claimer   feeclaim.Claimer
	Disburser Disburser
	Outcomes  storage.OutcomeStore
	Locker    storage.CycleLocker

	// Optional
	Snapshots storage.SnapshotStore
	Reporter  Reporter
	Logger    *slog.Logger

	// Mint is the tracked token. Blank puts the service in no-op mode.
	Mint string
	// Wallet is the operating wallet whose balance measures claimed fees.
	Wallet string

	SettleDelay     time.Duration
	LedgerTimeout   time.Duration
	ClaimTimeout    time.Duration
	DisburseTimeout time.Duration
	StoreTimeout    time.Duration
	RecentLimit     int
}

// Orchestrator coordinates one distribution per cycle.
type Orchestrator struct {
	clock     *cycle.Clock
	ledger    BalanceReader
	claimer   feeclaim.Claimer
	disburser Disburser
	outcomes  storage.OutcomeStore
	locker    storage.CycleLocker
	snapshots storage.SnapshotStore
	reporter  Reporter
	log       *slog.Logger

	mint   string
	wallet string

	settleDelay     time.Duration
	ledgerTimeout   time.Duration
	claimTimeout    time.Duration
	disburseTimeout time.Duration
	storeTimeout    time.Duration
	recentLimit     int

	group singleflight.Group
	// inflight counts triggers whose run has not delivered its result yet.
	inflight sync.WaitGroup
}

// New creates a new Orchestrator. Zero durations and limits take the defaults.
func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = cycle.NewClock(nil, cycle.DefaultPeriod)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	} else if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return &Orchestrator{
		clock:           opts.Clock,
		ledger:          opts.Ledger,
		claimer:         opts.Claimer,
		disburser:       opts.Disburser,
		outcomes:        opts.Outcomes,
		locker:          opts.Locker,
		snapshots:       opts.Snapshots,
		reporter:        opts.Reporter,
		log:             opts.Logger.With("component", "orchestrator"),
		mint:            strings.TrimSpace(opts.Mint),
		wallet:          opts.Wallet,
		settleDelay:     opts.SettleDelay,
		ledgerTimeout:   orDefault(opts.LedgerTimeout, DefaultLedgerTimeout),
		claimTimeout:    orDefault(opts.ClaimTimeout, DefaultClaimTimeout),
		disburseTimeout: orDefault(opts.DisburseTimeout, DefaultDisburseTimeout),
		storeTimeout:    orDefault(opts.StoreTimeout, DefaultStoreTimeout),
		recentLimit:     orDefaultInt(opts.RecentLimit, DefaultRecentLimit),
	}
}

// RunResult contains the results of one trigger.
type RunResult struct {
	Cycle cycle.Info
	State State // last state reached; StateFailed on error
	// FailedStep is set when State is StateFailed.
	FailedStep State

	TokenMintEmpty bool
	Duplicate      bool
	InProgress     bool
	Existing       *domain.Outcome // the stored outcome when Duplicate

	ClaimResult   json.RawMessage
	BalanceBefore uint64
	BalanceAfter  uint64
	Delta         int64 // lamports, after - before
	Disbursement  *disbursement.Result

	Outcome *domain.Outcome   // this cycle's stored outcome
	Recent  []*domain.Outcome // newest first

	claimAttempted bool
}

// Recipient returns the winner's address, or "" if nothing was sent.
func (r *RunResult) Recipient() string {
	if r.Disbursement == nil || r.Disbursement.Recipient == nil || !r.Disbursement.Sent() {
		return ""
	}
	return r.Disbursement.Recipient.String()
}

// ForwardedLamports returns the lamports sent this run.
func (r *RunResult) ForwardedLamports() uint64 {
	if r.Disbursement == nil || !r.Disbursement.Sent() {
		return 0
	}
	return r.Disbursement.Lamports
}

// Signature returns the transfer signature, or "" if none.
func (r *RunResult) Signature() string {
	if r.Disbursement == nil || !r.Disbursement.Sent() {
		return ""
	}
	return r.Disbursement.Signature.String()
}

// StatusResult is the read-only view of the current cycle.
type StatusResult struct {
	Cycle          cycle.Info
	TokenMintEmpty bool
	Recent         []*domain.Outcome
}

// Status returns the current cycle and recent outcomes. It never claims or transfers.
func (o *Orchestrator) Status(ctx context.Context) (*StatusResult, error) {
	res := &StatusResult{Cycle: o.clock.Current()}
	if o.mint == "" {
		res.TokenMintEmpty = true
		return res, ErrTokenMintNotConfigured
	}

	recent, err := o.recent(ctx)
	if err != nil {
		return res, err
	}
	res.Recent = recent
	return res, nil
}

// Trigger runs the distribution for the current cycle, at most once per cycle.
// The result is never nil. Benign outcomes (see IsBenign) are returned as errors
// alongside a populated result; any other error after claiming began is returned
// with the failed outcome already recorded.
func (o *Orchestrator) Trigger(ctx context.Context) (*RunResult, error) {
	info := o.clock.Current()
	res := &RunResult{Cycle: info, State: StateConfigCheck}

	if o.mint == "" {
		res.TokenMintEmpty = true
		observability.RecordCycle("unconfigured", 0)
		return res, ErrTokenMintNotConfigured
	}

	o.inflight.Add(1)
	ch := o.group.DoChan(strconv.FormatInt(info.ID, 10), func() (interface{}, error) {
		// Waiters may give up; the run itself must not be cut short.
		return o.run(context.WithoutCancel(ctx), info)
	})
	out := make(chan singleflight.Result, 1)
	go func() {
		defer o.inflight.Done()
		out <- <-ch
	}()

	select {
	case <-ctx.Done():
		return res, ctx.Err()
	case r := <-out:
		if r.Shared {
			observability.RecordTriggerCoalesced()
		}
		shared, _ := r.Val.(*RunResult)
		if shared == nil {
			return res, r.Err
		}
		return shared, r.Err
	}
}

// Wait blocks until every started run has finished, including runs whose
// callers already gave up, or until ctx is done. Call it on shutdown after
// new triggers have stopped.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight runs: %w", ctx.Err())
	}
}

// run executes one cycle. Returned errors are benign or *StepError.
func (o *Orchestrator) run(ctx context.Context, info cycle.Info) (*RunResult, error) {
	start := time.Now()
	log := o.log.With("cycle", info.ID)
	res := &RunResult{Cycle: info, State: StateCycleCheck}

	finish := func(result string, err error) (*RunResult, error) {
		observability.RecordCycle(result, time.Since(start).Seconds())
		return res, err
	}

	log.Info("starting distribution check", "minute", info.Minute())

	if found, err := o.checkExisting(ctx, res); err != nil {
		return finish("failed", o.fail(ctx, log, res, StateCycleCheck, err))
	} else if found {
		log.Info("distribution already completed")
		return finish("duplicate", &DuplicateCycleError{CycleID: info.ID})
	}

	release, acquired, err := o.lock(ctx, info.ID)
	if err != nil {
		return finish("failed", o.fail(ctx, log, res, StateCycleCheck, err))
	}
	if !acquired {
		log.Info("distribution in progress elsewhere")
		res.Duplicate, res.InProgress = true, true
		res.Recent = o.recentOrNil(ctx, log)
		return finish("in_progress", &DuplicateCycleError{CycleID: info.ID, InProgress: true})
	}
	defer release()

	// Another process may have finished between the first check and the lock
	if found, err := o.checkExisting(ctx, res); err != nil {
		return finish("failed", o.fail(ctx, log, res, StateCycleCheck, err))
	} else if found {
		log.Info("distribution completed while acquiring lock")
		return finish("duplicate", &DuplicateCycleError{CycleID: info.ID})
	}

	log.Info("starting distribution")
	stepErr := o.distribute(ctx, log, res)
	failedAt := res.State

	if stepErr != nil && !res.claimAttempted {
		// Nothing moved; the cycle stays open for the next trigger
		return finish("failed", o.fail(ctx, log, res, failedAt, stepErr))
	}

	res.State = StateRecording
	outcome, err := o.record(ctx, log, res, stepErr)
	if err != nil {
		if stepErr != nil {
			err = fmt.Errorf("%w (after %s failed: %v)", err, failedAt, stepErr)
		}
		return finish("failed", o.fail(ctx, log, res, StateRecording, err))
	}
	res.Outcome = outcome
	res.Recent = o.recentOrNil(ctx, log)

	if stepErr != nil {
		return finish("failed", o.fail(ctx, log, res, failedAt, stepErr))
	}

	res.State = StateDone
	log.Info("distribution finished",
		"status", outcome.Status.String(),
		"wallet", outcome.Wallet,
		"lamports", outcome.Lamports)
	return finish(outcome.Status.String(), nil)
}

// distribute runs claim → settle → measure → disburse. On error, res.State is
// the step that failed.
func (o *Orchestrator) distribute(ctx context.Context, log *slog.Logger, res *RunResult) error {
	res.State = StateClaiming

	before, err := o.balance(ctx)
	if err != nil {
		return fmt.Errorf("read balance before claim: %w", err)
	}
	res.BalanceBefore = before

	claimCtx, cancel := context.WithTimeout(ctx, o.claimTimeout)
	claim, err := o.claimer.Claim(claimCtx)
	cancel()
	if err != nil {
		var claimErr *feeclaim.ClaimError
		// An attempted request may have settled fees even though it failed
		res.claimAttempted = !errors.As(err, &claimErr) || claimErr.Attempted
		return err
	}
	res.claimAttempted = true
	res.ClaimResult = claim.Body

	res.State = StateSettling
	if o.settleDelay > 0 {
		<-o.clock.Clock().After(o.settleDelay)
	}

	res.State = StateMeasuring
	after, err := o.balance(ctx)
	if err != nil {
		return fmt.Errorf("read balance after claim: %w", err)
	}
	res.BalanceAfter = after
	res.Delta = int64(after) - int64(before)

	log.Info("claimed fees",
		"balance_before_sol", domain.LamportsToSOL(int64(before)),
		"balance_after_sol", domain.LamportsToSOL(int64(after)),
		"claimed_sol", domain.LamportsToSOL(res.Delta))

	res.State = StateDisbursing
	disburseCtx, cancel := context.WithTimeout(ctx, o.disburseTimeout)
	defer cancel()
	d, err := o.disburser.Disburse(disburseCtx, res.Delta)
	res.Disbursement = d
	o.archive(ctx, log, res)
	if err != nil {
		return err
	}
	if !d.Sent() {
		log.Info("no meaningful fees to distribute", "claimed_sol", domain.LamportsToSOL(res.Delta))
	} else {
		log.Info("sent fees",
			"recipient", d.Recipient.String(),
			"sol", domain.LamportsToSOL(int64(d.Lamports)),
			"signature", d.Signature.String())
	}
	return nil
}

// record persists this cycle's outcome. An insert conflict means another run
// recorded first; its row wins and is returned.
func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, res *RunResult, stepErr error) (*domain.Outcome, error) {
	outcome := o.buildOutcome(res, stepErr)

	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()

	err := o.outcomes.Insert(storeCtx, outcome)
	if errors.Is(err, storage.ErrDuplicateKey) {
		log.Warn("outcome already recorded by another run, keeping stored row",
			"local_status", outcome.Status.String(),
			"local_signature", res.Signature())
		stored, getErr := o.outcomes.GetByCycle(storeCtx, res.Cycle.ID)
		if getErr != nil {
			return nil, fmt.Errorf("read conflicting outcome: %w", getErr)
		}
		return stored, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record outcome: %w", err)
	}

	// Re-read for the store-assigned created_at
	stored, err := o.outcomes.GetByCycle(storeCtx, res.Cycle.ID)
	if err != nil {
		log.Warn("failed to read back outcome", "error", err)
		stored = outcome
	}
	observability.RecordOutcome(stored.CycleID, stored.Lamports, stored.DistributedAt.Unix())
	return stored, nil
}

func (o *Orchestrator) buildOutcome(res *RunResult, stepErr error) *domain.Outcome {
	outcome := &domain.Outcome{
		ID:            idhash.ComputeOutcomeID(o.mint, res.Cycle.ID),
		Wallet:        domain.NoWinnerWallet,
		CycleID:       res.Cycle.ID,
		Status:        domain.OutcomeStatusNoFees,
		DistributedAt: o.clock.Clock().Now().UTC(),
	}

	d := res.Disbursement
	if stepErr == nil {
		if d.Sent() {
			sig := d.Signature.String()
			outcome.Wallet = d.Recipient.String()
			outcome.Lamports = d.Lamports
			outcome.Amount = domain.LamportsToSOL(int64(d.Lamports))
			outcome.Signature = &sig
			outcome.Status = domain.OutcomeStatusDistributed
		}
		return outcome
	}

	msg := stepErr.Error()
	outcome.Status = domain.OutcomeStatusFailed
	outcome.Error = &msg
	outcome.Wallet = domain.FailedWinnerWallet

	// A submitted but unconfirmed transfer may still land; keep it auditable
	var terr *disbursement.TransferError
	if errors.As(stepErr, &terr) && terr.Signature != nil {
		sig := terr.Signature.String()
		outcome.Wallet = terr.Recipient.String()
		outcome.Lamports = terr.Lamports
		outcome.Amount = domain.LamportsToSOL(int64(terr.Lamports))
		outcome.Signature = &sig
	}
	return outcome
}

// archive stores the holder snapshot of the draw. Failures are logged only.
func (o *Orchestrator) archive(ctx context.Context, log *slog.Logger, res *RunResult) {
	if o.snapshots == nil || res.Disbursement == nil || res.Disbursement.Selection == nil {
		return
	}
	sel := res.Disbursement.Selection
	observability.RecordEligibleHolders(len(sel.Candidates))

	mint, err := solanago.PublicKeyFromBase58(o.mint)
	if err != nil {
		log.Warn("skipping snapshot archive", "error", err)
		return
	}
	rows := sel.Snapshots(res.Cycle.ID, mint, o.clock.Clock().Now().UTC())

	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	if err := o.snapshots.InsertBulk(storeCtx, rows); err != nil {
		observability.RecordSnapshotArchiveFailure()
		log.Warn("failed to archive holder snapshot", "error", err, "rows", len(rows))
	}
}

// checkExisting reports whether the cycle already has an outcome, filling res if so.
func (o *Orchestrator) checkExisting(ctx context.Context, res *RunResult) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()

	existing, err := o.outcomes.GetByCycle(storeCtx, res.Cycle.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existing outcome: %w", err)
	}

	res.Duplicate = true
	res.Existing = existing
	res.Recent = o.recentOrNil(ctx, o.log.With("cycle", res.Cycle.ID))
	return true, nil
}

func (o *Orchestrator) lock(ctx context.Context, cycleID int64) (func(), bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()

	release, acquired, err := o.locker.TryLock(storeCtx, cycleID)
	if err != nil {
		return nil, false, fmt.Errorf("acquire cycle lock: %w", err)
	}
	return release, acquired, nil
}

func (o *Orchestrator) balance(ctx context.Context) (uint64, error) {
	ledgerCtx, cancel := context.WithTimeout(ctx, o.ledgerTimeout)
	defer cancel()
	return o.ledger.GetBalance(ledgerCtx, o.wallet)
}

func (o *Orchestrator) recent(ctx context.Context) ([]*domain.Outcome, error) {
	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()

	recent, err := o.outcomes.Recent(storeCtx, o.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent outcomes: %w", err)
	}
	return recent, nil
}

// recentOrNil lists recent outcomes for a response that must not fail on them.
func (o *Orchestrator) recentOrNil(ctx context.Context, log *slog.Logger) []*domain.Outcome {
	recent, err := o.recent(ctx)
	if err != nil {
		log.Warn("failed to list recent outcomes", "error", err)
		return nil
	}
	return recent
}

// fail marks res failed at step, logs and reports err, and returns it as *StepError.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, res *RunResult, step State, err error) error {
	res.State = StateFailed
	res.FailedStep = step
	log.Error("distribution failed", "step", step.String(), "error", err)
	if o.reporter != nil {
		o.reporter.Report(ctx, res.Cycle.ID, step.String(), err)
	}
	return &StepError{Step: step, Err: err}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
