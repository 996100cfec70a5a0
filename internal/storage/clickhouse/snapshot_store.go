package clickhouse

import (
	"context"
	"fmt"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBulk appends the rows of one or more draws.
// Fails the entire batch on a duplicate (cycle_id, rank), in the batch or already stored.
func (s *SnapshotStore) InsertBulk(ctx context.Context, rows []*domain.HolderSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		cycleID int64
		rank    uint32
	}
	seen := make(map[key]struct{}, len(rows))
	cycles := make(map[int64]struct{})
	for _, r := range rows {
		if r == nil {
			return storage.ErrInvalidInput
		}
		k := key{r.CycleID, r.Rank}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
		cycles[r.CycleID] = struct{}{}
	}

	// A cycle is archived once
	for cycleID := range cycles {
		exists, err := s.exists(ctx, cycleID)
		if err != nil {
			return &storage.PersistenceError{Op: "check snapshot exists", Err: err}
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	err := observe(ctx, "insert_snapshots", func(ctx context.Context) error {
		batch, err := s.conn.PrepareBatch(ctx, `
			INSERT INTO holder_snapshots (
				cycle_id, mint, owner, token_account, balance, weight,
				cumulative, rank, selected, draw, recorded_at
			)
		`)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}

		for _, r := range rows {
			err = batch.Append(
				r.CycleID, r.Mint, r.Owner, r.TokenAccount, r.Balance, r.Weight,
				r.Cumulative, r.Rank, r.Selected, r.Draw, r.RecordedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}

		if err := batch.Send(); err != nil {
			return fmt.Errorf("send batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return &storage.PersistenceError{Op: "insert snapshots", Err: err}
	}
	return nil
}

// GetByCycle retrieves all rows for a cycle, ordered by rank ASC.
func (s *SnapshotStore) GetByCycle(ctx context.Context, cycleID int64) ([]*domain.HolderSnapshot, error) {
	query := `
		SELECT cycle_id, mint, owner, token_account, balance, weight,
		       cumulative, rank, selected, draw, recorded_at
		FROM holder_snapshots
		WHERE cycle_id = ?
		ORDER BY rank ASC
	`

	var result []*domain.HolderSnapshot
	err := observe(ctx, "get_snapshots", func(ctx context.Context) error {
		rows, err := s.conn.Query(ctx, query, cycleID)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = make([]*domain.HolderSnapshot, 0)
		for rows.Next() {
			var r domain.HolderSnapshot
			err := rows.Scan(
				&r.CycleID, &r.Mint, &r.Owner, &r.TokenAccount, &r.Balance, &r.Weight,
				&r.Cumulative, &r.Rank, &r.Selected, &r.Draw, &r.RecordedAt,
			)
			if err != nil {
				return fmt.Errorf("scan row: %w", err)
			}
			r.RecordedAt = r.RecordedAt.UTC()
			result = append(result, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &storage.PersistenceError{Op: "get snapshots by cycle", Err: err}
	}
	return result, nil
}

// exists checks if any row for the cycle is stored.
func (s *SnapshotStore) exists(ctx context.Context, cycleID int64) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM holder_snapshots WHERE cycle_id = ?`, cycleID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
