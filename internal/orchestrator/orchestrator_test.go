package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/disbursement"
	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/feeclaim"
	"solana-holder-lottery/internal/selection"
	"solana-holder-lottery/internal/solana"
	"solana-holder-lottery/internal/solana/stub"
	"solana-holder-lottery/internal/storage"
	"solana-holder-lottery/internal/storage/memory"
)

type fakeClaimer struct {
	mu    sync.Mutex
	calls int
	err   error
	body  string
	gate  chan struct{}
}

func (f *fakeClaimer) Claim(_ context.Context) (*feeclaim.Result, error) {
	f.mu.Lock()
	f.calls++
	gate, err, body := f.gate, f.err, f.body
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if body == "" {
		body = `{"signature":"claim-sig"}`
	}
	return &feeclaim.Result{StatusCode: 200, Body: json.RawMessage(body)}, nil
}

func (f *fakeClaimer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingReporter struct {
	mu    sync.Mutex
	steps []string
}

func (r *recordingReporter) Report(_ context.Context, _ int64, step string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

type harness struct {
	rpc       *stub.RPCClient
	claimer   *fakeClaimer
	outcomes  *memory.OutcomeStore
	locker    *memory.CycleLocker
	snapshots *memory.SnapshotStore
	reporter  *recordingReporter
	clock     *clockwork.FakeClock
	orch      *Orchestrator

	wallet  solanago.PublicKey
	mint    solanago.PublicKey
	pool    solanago.PublicKey
	holders []solanago.PublicKey
}

func newKey(t *testing.T) solanago.PrivateKey {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// newHarness wires the real selection, disbursement and transfer path over the
// stub ledger. The mint has a pool account, three holders weighted 70/20/10
// and the excluded dev wallet.
func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()

	signer := newKey(t)
	dev := newKey(t).PublicKey()
	h := &harness{
		rpc:       stub.NewRPCClient(),
		claimer:   &fakeClaimer{},
		outcomes:  memory.NewOutcomeStore(nil),
		locker:    memory.NewCycleLocker(),
		snapshots: memory.NewSnapshotStore(),
		reporter:  &recordingReporter{},
		clock:     clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 1, 30, 0, time.UTC)),
		wallet:    signer.PublicKey(),
		mint:      newKey(t).PublicKey(),
		pool:      newKey(t).PublicKey(),
	}

	h.rpc.AddTokenAccount(h.mint.String(), h.pool.String(), newKey(t).PublicKey().String(), 1_000_000)
	h.rpc.AddTokenAccount(h.mint.String(), dev.String(), newKey(t).PublicKey().String(), 5_000_000)
	for _, amount := range []uint64{70, 20, 10} {
		owner := newKey(t).PublicKey()
		h.holders = append(h.holders, owner)
		h.rpc.AddTokenAccount(h.mint.String(), owner.String(), newKey(t).PublicKey().String(), amount)
	}

	selector := selection.NewSelector(solana.NewHolderSource(h.rpc, nil), dev,
		selection.WithRand(rand.New(rand.NewPCG(3, 5))))
	transferrer := solana.NewTransferrer(h.rpc, signer,
		solana.WithPollInterval(2*time.Millisecond),
		solana.WithConfirmTimeout(200*time.Millisecond))
	executor := disbursement.NewExecutor(selector, transferrer, disbursement.Config{Mint: h.mint})

	opts := Options{
		Clock:       cycle.NewClock(h.clock, cycle.DefaultPeriod),
		Ledger:      h.rpc,
		Claimer:     h.claimer,
		Disburser:   executor,
		Outcomes:    h.outcomes,
		Locker:      h.locker,
		Snapshots:   h.snapshots,
		Reporter:    h.reporter,
		Mint:        h.mint.String(),
		Wallet:      h.wallet.String(),
		SettleDelay: -1,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.orch = New(opts)
	return h
}

func (h *harness) cycleID() int64 {
	return cycle.Current(h.clock.Now(), cycle.DefaultPeriod).ID
}

func (h *harness) isHolder(wallet string) bool {
	for _, pk := range h.holders {
		if pk.String() == wallet {
			return true
		}
	}
	return false
}

func TestTrigger_Distributes(t *testing.T) {
	h := newHarness(t)
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_010_000_000)

	res, err := h.orch.Trigger(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, h.cycleID(), res.Cycle.ID)
	assert.Equal(t, int64(10_000_000), res.Delta)
	assert.Equal(t, uint64(5_000_000), res.ForwardedLamports())
	assert.JSONEq(t, `{"signature":"claim-sig"}`, string(res.ClaimResult))

	transfers := h.rpc.SentTransfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(5_000_000), transfers[0].Lamports)
	assert.Equal(t, h.wallet, transfers[0].From)
	assert.NotEqual(t, h.pool, transfers[0].To)
	assert.True(t, h.isHolder(transfers[0].To.String()))

	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.OutcomeStatusDistributed, res.Outcome.Status)
	assert.Equal(t, transfers[0].To.String(), res.Outcome.Wallet)
	assert.Equal(t, 0.005, res.Outcome.Amount)
	require.NotNil(t, res.Outcome.Signature)
	assert.Equal(t, transfers[0].Signature.String(), *res.Outcome.Signature)
	assert.Equal(t, res.Signature(), *res.Outcome.Signature)
	assert.Equal(t, res.Recipient(), res.Outcome.Wallet)

	require.Len(t, res.Recent, 1)
	assert.Equal(t, res.Cycle.ID, res.Recent[0].CycleID)

	rows, err := h.snapshots.GetByCycle(context.Background(), res.Cycle.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	assert.Equal(t, 1, h.claimer.Calls())
	assert.False(t, h.locker.Held(res.Cycle.ID))
}

func TestTrigger_BelowThresholdRecordsZero(t *testing.T) {
	h := newHarness(t)
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_000_004_000)

	res, err := h.orch.Trigger(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.rpc.SentTransfers())
	assert.Zero(t, h.rpc.CallCount("getProgramAccounts"))

	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.OutcomeStatusNoFees, res.Outcome.Status)
	assert.Equal(t, domain.NoWinnerWallet, res.Outcome.Wallet)
	assert.Zero(t, res.Outcome.Amount)
	assert.Nil(t, res.Outcome.Signature)
	assert.Empty(t, res.Recipient())
}

func TestTrigger_ExistingOutcomeSkipsWork(t *testing.T) {
	h := newHarness(t)
	existing := &domain.Outcome{
		ID: "prior", Wallet: "W", Amount: 1.2345, CycleID: h.cycleID(), Status: domain.OutcomeStatusDistributed,
	}
	require.NoError(t, h.outcomes.Insert(context.Background(), existing))

	res, err := h.orch.Trigger(context.Background())

	var dup *DuplicateCycleError
	require.ErrorAs(t, err, &dup)
	assert.False(t, dup.InProgress)
	assert.True(t, IsBenign(err))
	assert.Equal(t, "Distribution already completed for cycle "+itoa(h.cycleID()), err.Error())

	assert.True(t, res.Duplicate)
	require.NotNil(t, res.Existing)
	assert.Equal(t, "prior", res.Existing.ID)
	assert.Len(t, res.Recent, 1)

	assert.Zero(t, h.claimer.Calls())
	assert.Zero(t, h.rpc.CallCount("getBalance"))
	assert.Empty(t, h.rpc.SentTransfers())
}

func TestTrigger_TokenMintEmpty(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Mint = "   " })

	res, err := h.orch.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrTokenMintNotConfigured)
	assert.True(t, IsBenign(err))
	assert.True(t, res.TokenMintEmpty)
	assert.Equal(t, h.cycleID(), res.Cycle.ID)

	status, err := h.orch.Status(context.Background())
	assert.ErrorIs(t, err, ErrTokenMintNotConfigured)
	assert.True(t, status.TokenMintEmpty)

	assert.Zero(t, h.claimer.Calls())
	for method, n := range h.rpc.Calls {
		assert.Zero(t, n, "unexpected %s call", method)
	}
	assert.Zero(t, h.outcomes.Len())
}

func TestTrigger_ClaimNotSentLeavesCycleOpen(t *testing.T) {
	h := newHarness(t)
	h.claimer.err = &feeclaim.ClaimError{Err: errors.New("bad endpoint")}
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000)

	res, err := h.orch.Trigger(context.Background())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateClaiming, stepErr.Step)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateClaiming, res.FailedStep)
	assert.False(t, IsBenign(err))
	assert.Zero(t, h.outcomes.Len())
	assert.Equal(t, []string{"claiming"}, h.reporter.steps)

	// The next trigger in the same cycle retries
	h.claimer.err = nil
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000)
	_, err = h.orch.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.outcomes.Len())
}

func TestTrigger_AttemptedClaimFailureConsumesCycle(t *testing.T) {
	h := newHarness(t)
	h.claimer.err = &feeclaim.ClaimError{StatusCode: 500, Body: "boom", Err: errors.New("unexpected status 500"), Attempted: true}
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000)

	res, err := h.orch.Trigger(context.Background())
	require.Error(t, err)
	assert.False(t, IsBenign(err))

	var claimErr *feeclaim.ClaimError
	assert.ErrorAs(t, err, &claimErr)
	assert.Equal(t, StateClaiming, res.FailedStep)

	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.OutcomeStatusFailed, res.Outcome.Status)
	assert.Equal(t, domain.FailedWinnerWallet, res.Outcome.Wallet)
	require.NotNil(t, res.Outcome.Error)
	assert.Contains(t, *res.Outcome.Error, "500")

	_, err = h.orch.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrDuplicateCycle)
	assert.Equal(t, 1, h.claimer.Calls())
}

func TestTrigger_BalanceBeforeFailureLeavesCycleOpen(t *testing.T) {
	h := newHarness(t)
	h.rpc.FailMethod("getBalance", errors.New("node unavailable"))

	res, err := h.orch.Trigger(context.Background())

	var qerr *solana.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, StateClaiming, res.FailedStep)
	assert.Zero(t, h.claimer.Calls())
	assert.Zero(t, h.outcomes.Len())
}

func TestTrigger_SelectionFailureRecordsOutcome(t *testing.T) {
	h := newHarness(t)
	h.rpc.TokenAccounts[h.mint.String()] = nil
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_020_000_000)

	res, err := h.orch.Trigger(context.Background())
	assert.ErrorIs(t, err, selection.ErrNoHolders)
	assert.Equal(t, StateDisbursing, res.FailedStep)

	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.OutcomeStatusFailed, res.Outcome.Status)
	assert.Zero(t, res.Outcome.Lamports)
	assert.Nil(t, res.Outcome.Signature)
	assert.Empty(t, h.rpc.SentTransfers())
}

func TestTrigger_UnconfirmedTransferKeepsSignature(t *testing.T) {
	h := newHarness(t)
	h.rpc.AutoConfirm = false
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_010_000_000)

	res, err := h.orch.Trigger(context.Background())
	assert.ErrorIs(t, err, solana.ErrConfirmTimeout)

	var terr *disbursement.TransferError
	require.ErrorAs(t, err, &terr)

	transfers := h.rpc.SentTransfers()
	require.Len(t, transfers, 1)

	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.OutcomeStatusFailed, res.Outcome.Status)
	assert.Equal(t, transfers[0].To.String(), res.Outcome.Wallet)
	assert.Equal(t, uint64(5_000_000), res.Outcome.Lamports)
	require.NotNil(t, res.Outcome.Signature)
	assert.Equal(t, transfers[0].Signature.String(), *res.Outcome.Signature)

	// Not reported as sent
	assert.Empty(t, res.Signature())
	assert.Zero(t, res.ForwardedLamports())
}

func TestTrigger_LockHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	release, ok, err := h.locker.TryLock(context.Background(), h.cycleID())
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	res, err := h.orch.Trigger(context.Background())

	var dup *DuplicateCycleError
	require.ErrorAs(t, err, &dup)
	assert.True(t, dup.InProgress)
	assert.True(t, res.InProgress)
	assert.Zero(t, h.claimer.Calls())
}

// racingStore records a competing outcome just before the local insert.
type racingStore struct {
	*memory.OutcomeStore
	competing *domain.Outcome
}

func (s *racingStore) Insert(ctx context.Context, o *domain.Outcome) error {
	if s.competing != nil {
		_ = s.OutcomeStore.Insert(ctx, s.competing)
		s.competing = nil
	}
	return s.OutcomeStore.Insert(ctx, o)
}

func TestTrigger_InsertConflictKeepsStoredRow(t *testing.T) {
	var store *racingStore
	h := newHarness(t, func(o *Options) {
		store = &racingStore{OutcomeStore: memory.NewOutcomeStore(nil)}
		o.Outcomes = store
	})
	store.competing = &domain.Outcome{ID: "winner-elsewhere", Wallet: "X", CycleID: h.cycleID(), Status: domain.OutcomeStatusNoFees}
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_000_000_000)

	res, err := h.orch.Trigger(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, "winner-elsewhere", res.Outcome.ID)
	assert.Equal(t, 1, store.Len())
}

func TestTrigger_CycleCheckStoreFailure(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Outcomes = failingStore{}
	})

	res, err := h.orch.Trigger(context.Background())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateCycleCheck, stepErr.Step)
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, h.claimer.Calls())
}

type failingStore struct{}

func (failingStore) Insert(context.Context, *domain.Outcome) error {
	return &storage.PersistenceError{Op: "insert", Err: errors.New("db down")}
}

func (failingStore) GetByCycle(context.Context, int64) (*domain.Outcome, error) {
	return nil, &storage.PersistenceError{Op: "get", Err: errors.New("db down")}
}

func (failingStore) Recent(context.Context, int) ([]*domain.Outcome, error) {
	return nil, &storage.PersistenceError{Op: "recent", Err: errors.New("db down")}
}

func TestTrigger_ConcurrentTriggersClaimOnce(t *testing.T) {
	h := newHarness(t)
	h.claimer.gate = make(chan struct{})
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_010_000_000)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.Trigger(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return h.claimer.Calls() == 1 }, time.Second, time.Millisecond)
	close(h.claimer.gate)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.True(t, IsBenign(err), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, h.claimer.Calls())
	assert.Equal(t, 1, h.outcomes.Len())
	assert.Len(t, h.rpc.SentTransfers(), 1)
}

func TestTrigger_WaitsForSettlement(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SettleDelay = 10 * time.Second })
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_000_000_000)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Trigger(context.Background())
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	// Only the balance before the claim has been read
	assert.Equal(t, 1, h.rpc.CallCount("getBalance"))

	h.clock.Advance(10 * time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, 2, h.rpc.CallCount("getBalance"))
}

func TestTrigger_CallerCancelDoesNotAbortRun(t *testing.T) {
	h := newHarness(t)
	h.claimer.gate = make(chan struct{})
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_010_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Trigger(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return h.claimer.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(h.claimer.gate)
	require.Eventually(t, func() bool { return h.outcomes.Len() == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Len(t, h.rpc.SentTransfers(), 1)
}

func TestWait_BlocksUntilAbandonedRunRecords(t *testing.T) {
	h := newHarness(t)
	h.claimer.gate = make(chan struct{})
	h.rpc.QueueBalance(h.wallet.String(), 1_000_000_000, 1_010_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Trigger(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return h.claimer.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	short, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	assert.ErrorIs(t, h.orch.Wait(short), context.DeadlineExceeded)
	assert.Equal(t, 0, h.outcomes.Len())

	close(h.claimer.gate)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, h.orch.Wait(waitCtx))
	assert.Equal(t, 1, h.outcomes.Len())
	assert.Len(t, h.rpc.SentTransfers(), 1)
}

func TestWait_Idle(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.orch.Wait(ctx))
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		require.NoError(t, h.outcomes.Insert(ctx, &domain.Outcome{
			ID: itoa(id), Wallet: "W", CycleID: id, Status: domain.OutcomeStatusDistributed,
		}))
	}

	status, err := h.orch.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.TokenMintEmpty)
	assert.Len(t, status.Recent, 2)
	assert.Equal(t, h.cycleID(), status.Cycle.ID)

	assert.Zero(t, h.claimer.Calls())
	assert.Zero(t, h.rpc.CallCount("getBalance"))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
