package memory

import (
	"context"
	"sync"

	"solana-holder-lottery/internal/storage"
)

// CycleLocker is an in-process implementation of storage.CycleLocker.
type CycleLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// Compile-time interface check.
var _ storage.CycleLocker = (*CycleLocker)(nil)

// NewCycleLocker creates a new in-memory cycle locker.
func NewCycleLocker() *CycleLocker {
	return &CycleLocker{held: make(map[int64]struct{})}
}

// TryLock takes the lock for cycleID if no one else holds it.
func (l *CycleLocker) TryLock(ctx context.Context, cycleID int64) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[cycleID]; busy {
		return nil, false, nil
	}
	l.held[cycleID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, cycleID)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}

// Held reports whether the lock for cycleID is currently taken.
func (l *CycleLocker) Held(cycleID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[cycleID]
	return busy
}
