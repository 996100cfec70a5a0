// Package stub provides an in-memory ledger for tests.
package stub

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"

	"solana-holder-lottery/internal/solana"
)

// ErrNotFound is returned when a transaction is not found.
var ErrNotFound = errors.New("not found")

// DefaultBlockhash is returned by GetLatestBlockhash unless overridden.
const DefaultBlockhash = "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"

// Transfer is a decoded system transfer that was submitted to the stub.
type Transfer struct {
	Signature solanago.Signature
	From      solanago.PublicKey
	To        solanago.PublicKey
	Lamports  uint64
}

// RPCClient implements solana.RPCClient for testing.
// Balances queued with QueueBalance are returned in order; the last value repeats.
type RPCClient struct {
	mu sync.Mutex

	Balances      map[string][]uint64
	TokenAccounts map[string][]solana.TokenAccount
	Statuses      map[string]*solana.SignatureStatus
	Blockhash     string

	// Errors fails the named RPC method (e.g. "getBalance").
	Errors map[string]error

	// AutoConfirm marks every submitted transaction confirmed.
	AutoConfirm bool

	Calls     map[string]int
	Transfers []Transfer
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Balances:      make(map[string][]uint64),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		Statuses:      make(map[string]*solana.SignatureStatus),
		Blockhash:     DefaultBlockhash,
		Errors:        make(map[string]error),
		AutoConfirm:   true,
		Calls:         make(map[string]int),
	}
}

func (c *RPCClient) enter(method string) error {
	c.Calls[method]++
	if err := c.Errors[method]; err != nil {
		return &solana.QueryError{Op: method, Err: err}
	}
	return nil
}

// GetBalance returns the next queued balance of address.
func (c *RPCClient) GetBalance(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getBalance"); err != nil {
		return 0, err
	}
	queue := c.Balances[address]
	if len(queue) == 0 {
		return 0, nil
	}
	v := queue[0]
	if len(queue) > 1 {
		c.Balances[address] = queue[1:]
	}
	return v, nil
}

// GetTokenAccountsByMint returns the accounts registered for mint.
func (c *RPCClient) GetTokenAccountsByMint(_ context.Context, mint string) ([]solana.TokenAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getProgramAccounts"); err != nil {
		return nil, err
	}
	accounts := c.TokenAccounts[mint]
	out := make([]solana.TokenAccount, len(accounts))
	copy(out, accounts)
	return out, nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getLatestBlockhash"); err != nil {
		return nil, err
	}
	return &solana.Blockhash{Blockhash: c.Blockhash, LastValidBlockHeight: 1000}, nil
}

// SendTransaction decodes and records a system transfer.
func (c *RPCClient) SendTransaction(_ context.Context, wireTx []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("sendTransaction"); err != nil {
		return "", err
	}

	tr, err := decodeTransfer(wireTx)
	if err != nil {
		return "", &solana.QueryError{Op: "sendTransaction", Err: err}
	}
	c.Transfers = append(c.Transfers, tr)

	if c.AutoConfirm {
		c.Statuses[tr.Signature.String()] = &solana.SignatureStatus{
			Slot:               uint64(100 + len(c.Transfers)),
			ConfirmationStatus: solana.CommitmentConfirmed,
		}
	}
	return tr.Signature.String(), nil
}

// GetSignatureStatuses returns the recorded statuses.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures ...string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getSignatureStatuses"); err != nil {
		return nil, err
	}
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if st, ok := c.Statuses[sig]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

// QueueBalance appends balances returned by successive GetBalance calls.
func (c *RPCClient) QueueBalance(address string, lamports ...uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[address] = append(c.Balances[address], lamports...)
}

// AddTokenAccount registers a token account of mint.
func (c *RPCClient) AddTokenAccount(mint, owner, account string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenAccounts[mint] = append(c.TokenAccounts[mint], solana.TokenAccount{
		Pubkey:   account,
		Mint:     mint,
		Owner:    owner,
		Amount:   amount,
		Decimals: 6,
	})
}

// SetStatus records a signature status.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// FailMethod makes method return err.
func (c *RPCClient) FailMethod(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors[method] = err
}

// CallCount returns how often method was called.
func (c *RPCClient) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[method]
}

// SentTransfers returns a copy of the submitted transfers.
func (c *RPCClient) SentTransfers() []Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Transfer, len(c.Transfers))
	copy(out, c.Transfers)
	return out
}

// decodeTransfer extracts the first system transfer of a signed wire transaction.
func decodeTransfer(wire []byte) (Transfer, error) {
	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(wire))
	if err != nil {
		return Transfer{}, fmt.Errorf("decode transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return Transfer{}, fmt.Errorf("unsigned transaction")
	}
	if len(tx.Message.Instructions) != 1 {
		return Transfer{}, fmt.Errorf("expected 1 instruction, got %d", len(tx.Message.Instructions))
	}

	ix := tx.Message.Instructions[0]
	program, err := tx.Message.Program(ix.ProgramIDIndex)
	if err != nil {
		return Transfer{}, err
	}
	if !program.Equals(solanago.SystemProgramID) {
		return Transfer{}, fmt.Errorf("unexpected program %s", program)
	}
	// SystemInstruction::Transfer is u32 index 2 followed by u64 lamports.
	if len(ix.Data) != 12 || binary.LittleEndian.Uint32(ix.Data[:4]) != 2 {
		return Transfer{}, fmt.Errorf("not a transfer instruction")
	}
	if len(ix.Accounts) != 2 {
		return Transfer{}, fmt.Errorf("expected 2 accounts, got %d", len(ix.Accounts))
	}

	from, err := tx.Message.Account(ix.Accounts[0])
	if err != nil {
		return Transfer{}, err
	}
	to, err := tx.Message.Account(ix.Accounts[1])
	if err != nil {
		return Transfer{}, err
	}

	return Transfer{
		Signature: tx.Signatures[0],
		From:      from,
		To:        to,
		Lamports:  binary.LittleEndian.Uint64(ix.Data[4:]),
	}, nil
}
