package solana

import (
	"context"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"

	"solana-holder-lottery/internal/domain"
)

// HolderSource lists holders of a mint from the token program accounts.
type HolderSource struct {
	rpc RPCClient
	log *slog.Logger
}

// NewHolderSource creates a HolderSource backed by rpc.
func NewHolderSource(rpc RPCClient, logger *slog.Logger) *HolderSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &HolderSource{rpc: rpc, log: logger.With("component", "holders")}
}

// TokenHolders returns one entry per token account of mint, in ledger order.
// Accounts whose owner is not a valid address are skipped.
func (s *HolderSource) TokenHolders(ctx context.Context, mint solanago.PublicKey) ([]domain.Holder, error) {
	accounts, err := s.rpc.GetTokenAccountsByMint(ctx, mint.String())
	if err != nil {
		return nil, err
	}

	holders := make([]domain.Holder, 0, len(accounts))
	skipped := 0
	for _, acc := range accounts {
		owner, err := solanago.PublicKeyFromBase58(acc.Owner)
		if err != nil {
			skipped++
			continue
		}
		tokenAccount, err := solanago.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			skipped++
			continue
		}
		holders = append(holders, domain.Holder{
			Owner:        owner,
			TokenAccount: tokenAccount,
			Balance:      acc.Amount,
		})
	}
	if skipped > 0 {
		s.log.Warn("skipped malformed token accounts", "mint", mint.String(), "skipped", skipped)
	}

	return holders, nil
}
