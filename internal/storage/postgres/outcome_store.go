package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-holder-lottery/internal/domain"
	"solana-holder-lottery/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

const outcomeColumns = `id, wallet, amount, lamports, signature, cycle_id, status, error, distributed_at, created_at`

// Insert adds a new outcome. Returns ErrDuplicateKey if cycle_id exists.
func (s *OutcomeStore) Insert(ctx context.Context, o *domain.Outcome) error {
	if o == nil || o.ID == "" || !o.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO winners (
			id, wallet, amount, lamports, signature, cycle_id, status, error, distributed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	distributedAt := o.DistributedAt
	if distributedAt.IsZero() {
		distributedAt = time.Now()
	}

	err := s.pool.observe(ctx, "insert_outcome", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, query,
			o.ID,
			o.Wallet,
			o.Amount,
			int64(o.Lamports),
			o.Signature,
			o.CycleID,
			string(o.Status),
			o.Error,
			distributedAt.UTC(),
		)
		return err
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return &storage.PersistenceError{Op: "insert outcome", Err: err}
	}
	return nil
}

// GetByCycle retrieves the outcome of a cycle. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByCycle(ctx context.Context, cycleID int64) (*domain.Outcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM winners WHERE cycle_id = $1`

	var o *domain.Outcome
	err := s.pool.observe(ctx, "get_outcome", func(ctx context.Context) error {
		var err error
		o, err = scanOutcome(s.pool.QueryRow(ctx, query, cycleID))
		return err
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, &storage.PersistenceError{Op: "get outcome by cycle", Err: err}
	}
	return o, nil
}

// Recent retrieves up to limit outcomes ordered by created_at DESC.
func (s *OutcomeStore) Recent(ctx context.Context, limit int) ([]*domain.Outcome, error) {
	if limit <= 0 {
		return []*domain.Outcome{}, nil
	}

	query := `
		SELECT ` + outcomeColumns + `
		FROM winners
		ORDER BY created_at DESC, cycle_id DESC
		LIMIT $1
	`

	var result []*domain.Outcome
	err := s.pool.observe(ctx, "recent_outcomes", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = make([]*domain.Outcome, 0, limit)
		for rows.Next() {
			o, err := scanOutcome(rows)
			if err != nil {
				return err
			}
			result = append(result, o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &storage.PersistenceError{Op: "list recent outcomes", Err: err}
	}
	return result, nil
}

func scanOutcome(row pgx.Row) (*domain.Outcome, error) {
	var (
		o        domain.Outcome
		lamports int64
		status   string
	)
	err := row.Scan(
		&o.ID,
		&o.Wallet,
		&o.Amount,
		&lamports,
		&o.Signature,
		&o.CycleID,
		&status,
		&o.Error,
		&o.DistributedAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Lamports = uint64(lamports)
	o.Status = domain.OutcomeStatus(status)
	o.DistributedAt = o.DistributedAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}
