package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/jonboulle/clockwork"

	"solana-holder-lottery/internal/observability"
)

// Transfer defaults.
const (
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// ErrTransactionFailed is returned when a submitted transaction executed with an error.
var ErrTransactionFailed = errors.New("transaction failed on chain")

// ErrConfirmTimeout is returned when a submitted transaction was not confirmed in time.
var ErrConfirmTimeout = errors.New("transaction not confirmed before timeout")

// SubmitError reports a failure after the transaction was sent.
// The transfer may still land; Signature identifies it.
type SubmitError struct {
	Signature solanago.Signature
	Err       error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Signature, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Transferrer sends native SOL transfers from a single signing wallet.
type Transferrer struct {
	rpc            RPCClient
	ws             WSClient
	signer         solanago.PrivateKey
	clock          clockwork.Clock
	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            *slog.Logger
}

// TransferOption configures Transferrer.
type TransferOption func(*Transferrer)

// WithWebsocket confirms through signature subscriptions, polling only as fallback.
func WithWebsocket(ws WSClient) TransferOption {
	return func(t *Transferrer) {
		t.ws = ws
	}
}

// WithConfirmTimeout bounds the wait for confirmation after submission.
func WithConfirmTimeout(d time.Duration) TransferOption {
	return func(t *Transferrer) {
		t.confirmTimeout = d
	}
}

// WithPollInterval sets the signature status polling interval.
func WithPollInterval(d time.Duration) TransferOption {
	return func(t *Transferrer) {
		t.pollInterval = d
	}
}

// WithClock sets the clock used for polling and timeouts.
func WithClock(clock clockwork.Clock) TransferOption {
	return func(t *Transferrer) {
		t.clock = clock
	}
}

// WithTransferLogger sets the logger.
func WithTransferLogger(logger *slog.Logger) TransferOption {
	return func(t *Transferrer) {
		t.log = logger
	}
}

// NewTransferrer creates a Transferrer that signs with signer.
func NewTransferrer(rpc RPCClient, signer solanago.PrivateKey, opts ...TransferOption) *Transferrer {
	t := &Transferrer{
		rpc:            rpc,
		signer:         signer,
		clock:          clockwork.NewRealClock(),
		confirmTimeout: DefaultConfirmTimeout,
		pollInterval:   DefaultPollInterval,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "transfer")
	return t
}

// Payer returns the signing wallet address.
func (t *Transferrer) Payer() solanago.PublicKey {
	return t.signer.PublicKey()
}

// Transfer sends lamports to recipient and waits for confirmed commitment.
// Errors before submission and node rejections are returned as-is. Later
// failures, and send failures that may have reached the node, are *SubmitError.
func (t *Transferrer) Transfer(ctx context.Context, recipient solanago.PublicKey, lamports uint64) (solanago.Signature, error) {
	if lamports == 0 {
		return solanago.Signature{}, fmt.Errorf("transfer: zero amount")
	}

	tx, err := t.build(ctx, recipient, lamports)
	if err != nil {
		return solanago.Signature{}, err
	}
	sig := tx.Signatures[0]

	wire, err := tx.MarshalBinary()
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("encode transaction: %w", err)
	}

	// Subscribe before sending so a fast confirmation is not missed.
	var notify <-chan SignatureNotification
	if t.ws != nil {
		ch, err := t.ws.SubscribeSignature(ctx, sig.String())
		if err != nil {
			t.log.Warn("signature subscription failed, polling", "signature", sig.String(), "error", err)
		} else {
			notify = ch
		}
	}

	sent, err := t.rpc.SendTransaction(ctx, wire)
	if err != nil {
		if notify != nil {
			t.ws.Unsubscribe(sig.String())
		}
		// A node rejection means nothing was accepted. Any other failure
		// leaves the transfer in doubt, so keep the signature.
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return solanago.Signature{}, fmt.Errorf("send transaction: %w", err)
		}
		t.log.Warn("transfer send failed, outcome unknown", "signature", sig.String(), "error", err)
		return sig, &SubmitError{Signature: sig, Err: fmt.Errorf("send transaction: %w", err)}
	}
	if sent != "" && sent != sig.String() {
		t.log.Warn("node returned unexpected signature", "local", sig.String(), "node", sent)
	}
	t.log.Info("transfer submitted", "signature", sig.String(), "recipient", recipient.String(), "lamports", lamports)

	if err := t.confirm(ctx, sig, notify); err != nil {
		if notify != nil {
			t.ws.Unsubscribe(sig.String())
		}
		return sig, &SubmitError{Signature: sig, Err: err}
	}
	return sig, nil
}

func (t *Transferrer) build(ctx context.Context, recipient solanago.PublicKey, lamports uint64) (*solanago.Transaction, error) {
	bh, err := t.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	blockhash, err := solanago.HashFromBase58(bh.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("parse blockhash: %w", err)
	}

	payer := t.signer.PublicKey()
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{
			system.NewTransferInstruction(lamports, payer, recipient).Build(),
		},
		blockhash,
		solanago.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if payer.Equals(key) {
			return &t.signer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// confirm waits for the websocket notification or a confirmed status, whichever comes first.
func (t *Transferrer) confirm(ctx context.Context, sig solanago.Signature, notify <-chan SignatureNotification) error {
	start := t.clock.Now()
	timeout := t.clock.After(t.confirmTimeout)
	ticker := t.clock.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return ErrConfirmTimeout
		case n, ok := <-notify:
			if !ok {
				// Subscription ended without a result; keep polling.
				notify = nil
				continue
			}
			observability.RecordConfirmationLatency(t.clock.Since(start).Seconds())
			if n.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, n.Err)
			}
			return nil
		case <-ticker.Chan():
			statuses, err := t.rpc.GetSignatureStatuses(ctx, sig.String())
			if err != nil {
				t.log.Debug("signature status poll failed", "signature", sig.String(), "error", err)
				continue
			}
			if len(statuses) == 0 || statuses[0] == nil {
				continue
			}
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
			}
			if st.IsConfirmed() {
				return nil
			}
		}
	}
}
