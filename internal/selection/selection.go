// Package selection draws a balance-weighted random holder of a token.
package selection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/solana"
)

var (
	// ErrNoHolders is returned when no account has a positive balance outside the excluded wallet.
	ErrNoHolders = errors.New("no token holders found")

	// ErrNoEligibleHolders is returned when the pool policy removes every candidate.
	ErrNoEligibleHolders = errors.New("no eligible holders after excluding liquidity pool")

	// ErrSelection is returned when the weight table is empty.
	ErrSelection = errors.New("weighted selection failed")
)

// PoolPolicy decides which candidates are treated as liquidity pools and excluded.
type PoolPolicy string

const (
	// PoolPolicyLargest excludes the single largest holder.
	PoolPolicyLargest PoolPolicy = "largest"
	// PoolPolicyOffCurve excludes owners without a private key, falling back to the largest.
	PoolPolicyOffCurve PoolPolicy = "off-curve"
	// PoolPolicyNone excludes nothing.
	PoolPolicyNone PoolPolicy = "none"
)

// ParsePoolPolicy parses a policy name. Empty selects PoolPolicyLargest.
func ParsePoolPolicy(s string) (PoolPolicy, error) {
	switch PoolPolicy(s) {
	case "", PoolPolicyLargest:
		return PoolPolicyLargest, nil
	case PoolPolicyOffCurve:
		return PoolPolicyOffCurve, nil
	case PoolPolicyNone:
		return PoolPolicyNone, nil
	default:
		return "", fmt.Errorf("unknown pool policy %q", s)
	}
}

// HolderSource enumerates token accounts of a mint.
type HolderSource interface {
	TokenHolders(ctx context.Context, mint solanago.PublicKey) ([]domain.Holder, error)
}

// Rand produces draws in [0, 1).
type Rand interface {
	Float64() float64
}

// Candidate is one holder in the weighted table, in selection order.
type Candidate struct {
	Holder     domain.Holder
	Weight     float64
	Cumulative float64
}

// Result is a completed draw.
type Result struct {
	Winner     solanago.PublicKey
	Index      int // position of the winner in Candidates
	Balance    uint64
	Weight     float64
	Draw       float64
	Candidates []Candidate
	Excluded   []domain.Holder // removed by the pool policy
}

// Snapshots converts the weighted table into archive rows.
func (r *Result) Snapshots(cycleID int64, mint solanago.PublicKey, at time.Time) []*domain.HolderSnapshot {
	rows := make([]*domain.HolderSnapshot, len(r.Candidates))
	for i, c := range r.Candidates {
		rows[i] = &domain.HolderSnapshot{
			CycleID:      cycleID,
			Mint:         mint.String(),
			Owner:        c.Holder.Owner.String(),
			TokenAccount: c.Holder.TokenAccount.String(),
			Balance:      c.Holder.Balance,
			Weight:       c.Weight,
			Cumulative:   c.Cumulative,
			Rank:         uint32(i),
			Selected:     i == r.Index,
			Draw:         r.Draw,
			RecordedAt:   at,
		}
	}
	return rows
}

// Eligible filters holders with a positive balance that are not excluded.
func Eligible(holders []domain.Holder, excluded solanago.PublicKey) []domain.Holder {
	out := make([]domain.Holder, 0, len(holders))
	for _, h := range holders {
		if h.Balance == 0 || h.Owner.Equals(excluded) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// SortByBalance orders holders by balance descending, then owner and token account ascending.
func SortByBalance(holders []domain.Holder) {
	sort.SliceStable(holders, func(i, j int) bool {
		if holders[i].Balance != holders[j].Balance {
			return holders[i].Balance > holders[j].Balance
		}
		if c := bytes.Compare(holders[i].Owner[:], holders[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(holders[i].TokenAccount[:], holders[j].TokenAccount[:]) < 0
	})
}

// ApplyPoolPolicy removes pool holders from a balance-sorted slice.
// It returns the remaining candidates and the removed holders.
func ApplyPoolPolicy(sorted []domain.Holder, policy PoolPolicy) (kept, excluded []domain.Holder) {
	if len(sorted) == 0 {
		return nil, nil
	}
	switch policy {
	case PoolPolicyNone:
		return sorted, nil
	case PoolPolicyOffCurve:
		for _, h := range sorted {
			if solana.IsOnCurve(h.Owner) {
				kept = append(kept, h)
			} else {
				excluded = append(excluded, h)
			}
		}
		if len(excluded) > 0 {
			return kept, excluded
		}
		return sorted[1:], sorted[:1]
	default:
		return sorted[1:], sorted[:1]
	}
}

// Weigh computes each candidate's share of the total balance and the running sum.
func Weigh(candidates []domain.Holder) []Candidate {
	var total float64
	for _, h := range candidates {
		total += float64(h.Balance)
	}
	out := make([]Candidate, len(candidates))
	if total == 0 {
		return out[:0]
	}
	var cumulative float64
	for i, h := range candidates {
		w := float64(h.Balance) / total
		cumulative += w
		out[i] = Candidate{Holder: h, Weight: w, Cumulative: cumulative}
	}
	return out
}

// Pick returns the index of the first candidate whose cumulative weight reaches r.
// Rounding can leave the final cumulative just under 1; the last candidate absorbs it.
func Pick(table []Candidate, r float64) (int, error) {
	if len(table) == 0 {
		return 0, ErrSelection
	}
	for i, c := range table {
		if c.Cumulative >= r {
			return i, nil
		}
	}
	return len(table) - 1, nil
}

// Selector draws winners from a HolderSource.
type Selector struct {
	source   HolderSource
	excluded solanago.PublicKey
	policy   PoolPolicy

	mu   sync.Mutex
	rand Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand sets the random source. It is used under a mutex.
func WithRand(r Rand) Option {
	return func(s *Selector) {
		s.rand = r
	}
}

// WithPoolPolicy sets the pool policy.
func WithPoolPolicy(p PoolPolicy) Option {
	return func(s *Selector) {
		s.policy = p
	}
}

// NewSelector creates a Selector that never picks excluded.
func NewSelector(source HolderSource, excluded solanago.PublicKey, opts ...Option) *Selector {
	s := &Selector{
		source:   source,
		excluded: excluded,
		policy:   PoolPolicyLargest,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select enumerates holders of mint and draws one winner.
func (s *Selector) Select(ctx context.Context, mint solanago.PublicKey) (*Result, error) {
	holders, err := s.source.TokenHolders(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	return s.Draw(holders)
}

// Draw runs the selection over an already fetched holder list.
func (s *Selector) Draw(holders []domain.Holder) (*Result, error) {
	eligible := Eligible(holders, s.excluded)
	if len(eligible) == 0 {
		return nil, ErrNoHolders
	}

	SortByBalance(eligible)
	candidates, excluded := ApplyPoolPolicy(eligible, s.policy)
	if len(candidates) == 0 {
		return nil, ErrNoEligibleHolders
	}

	table := Weigh(candidates)
	r := s.draw()
	idx, err := Pick(table, r)
	if err != nil {
		return nil, err
	}

	winner := table[idx]
	return &Result{
		Winner:     winner.Holder.Owner,
		Index:      idx,
		Balance:    winner.Holder.Balance,
		Weight:     winner.Weight,
		Draw:       r,
		Candidates: table,
		Excluded:   excluded,
	}, nil
}

func (s *Selector) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}
