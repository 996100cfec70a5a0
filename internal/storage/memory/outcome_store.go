package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	data  map[int64]*domain.Outcome // keyed by cycle_id
	seq   map[int64]int             // insertion order, breaks created_at ties
	next  int
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

// NewOutcomeStore creates a new in-memory outcome store.
// A nil clock stamps CreatedAt with the wall clock.
func NewOutcomeStore(clock clockwork.Clock) *OutcomeStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OutcomeStore{
		clock: clock,
		data:  make(map[int64]*domain.Outcome),
		seq:   make(map[int64]int),
	}
}

// Insert adds a new outcome. Returns ErrDuplicateKey if cycle_id exists.
func (s *OutcomeStore) Insert(_ context.Context, o *domain.Outcome) error {
	if o == nil || o.ID == "" || !o.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.CycleID]; exists {
		return storage.ErrDuplicateKey
	}

	stored := cloneOutcome(o)
	stored.CreatedAt = s.clock.Now().UTC()
	s.data[o.CycleID] = stored
	s.seq[o.CycleID] = s.next
	s.next++
	return nil
}

// GetByCycle retrieves the outcome of a cycle. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByCycle(_ context.Context, cycleID int64) (*domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[cycleID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneOutcome(o), nil
}

// Recent retrieves up to limit outcomes ordered by created_at DESC.
func (s *OutcomeStore) Recent(_ context.Context, limit int) ([]*domain.Outcome, error) {
	if limit <= 0 {
		return []*domain.Outcome{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Outcome, 0, len(s.data))
	for _, o := range s.data {
		result = append(result, o)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return s.seq[a.CycleID] > s.seq[b.CycleID]
	})

	if len(result) > limit {
		result = result[:limit]
	}
	for i, o := range result {
		result[i] = cloneOutcome(o)
	}
	return result, nil
}

// Len returns the number of stored outcomes.
func (s *OutcomeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func cloneOutcome(o *domain.Outcome) *domain.Outcome {
	c := *o
	if o.Signature != nil {
		sig := *o.Signature
		c.Signature = &sig
	}
	if o.Error != nil {
		msg := *o.Error
		c.Error = &msg
	}
	c.DistributedAt = o.DistributedAt.UTC()
	if !o.CreatedAt.IsZero() {
		c.CreatedAt = o.CreatedAt.UTC()
	}
	return &c
}
