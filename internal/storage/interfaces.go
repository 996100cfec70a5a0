package storage

import (
	"context"

	"solana-holder-lottery/internal/domain"
)

// OutcomeStore provides access to the winners table.
// Outcomes are append-only: one row per cycle, never updated or deleted.
type OutcomeStore interface {
	// Insert adds a new outcome. Returns ErrDuplicateKey if cycle_id exists.
	Insert(ctx context.Context, o *domain.Outcome) error

	// GetByCycle retrieves the outcome of a cycle. Returns ErrNotFound if not exists.
	GetByCycle(ctx context.Context, cycleID int64) (*domain.Outcome, error)

	// Recent retrieves up to limit outcomes, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.Outcome, error)
}

// CycleLocker serializes distribution runs for a cycle across processes.
type CycleLocker interface {
	// TryLock attempts to take the cycle lock without blocking.
	// If acquired is true, release must be called exactly once to give it back.
	TryLock(ctx context.Context, cycleID int64) (release func(), acquired bool, err error)
}

// SnapshotStore provides access to the holder_snapshots archive.
type SnapshotStore interface {
	// InsertBulk appends the snapshot rows of one draw.
	InsertBulk(ctx context.Context, rows []*domain.HolderSnapshot) error

	// GetByCycle retrieves all rows recorded for a cycle, ordered by rank ASC.
	GetByCycle(ctx context.Context, cycleID int64) ([]*domain.HolderSnapshot, error)
}
