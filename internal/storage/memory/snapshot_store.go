package memory

import (
	"context"
	"sort"
	"sync"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[int64][]*domain.HolderSnapshot // keyed by cycle_id
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[int64][]*domain.HolderSnapshot),
	}
}

// InsertBulk appends the rows. Nil rows are rejected before anything is stored.
func (s *SnapshotStore) InsertBulk(_ context.Context, rows []*domain.HolderSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if r == nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		row := *r
		s.data[r.CycleID] = append(s.data[r.CycleID], &row)
	}
	return nil
}

// GetByCycle retrieves all rows for a cycle, ordered by rank ASC.
func (s *SnapshotStore) GetByCycle(_ context.Context, cycleID int64) ([]*domain.HolderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.data[cycleID]
	result := make([]*domain.HolderSnapshot, 0, len(stored))
	for _, r := range stored {
		row := *r
		result = append(result, &row)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Rank < result[j].Rank
	})
	return result, nil
}
