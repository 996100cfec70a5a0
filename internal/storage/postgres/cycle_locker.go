package postgres

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"solana-holder-lottery/internal/storage"
)

// unlockTimeout bounds the release of an advisory lock.
const unlockTimeout = 5 * time.Second

// lockPrefix scopes advisory lock keys to the winners table. Cycle IDs are
// unique per database, so the lock is too.
const lockPrefix = "holder-lottery:winners:"

// CycleLocker implements storage.CycleLocker with session-level advisory locks.
// The lock lives on a connection taken out of the pool for as long as it is held.
type CycleLocker struct {
	pool *Pool
}

// NewCycleLocker creates a new CycleLocker.
func NewCycleLocker(pool *Pool) *CycleLocker {
	return &CycleLocker{pool: pool}
}

// Compile-time interface check.
var _ storage.CycleLocker = (*CycleLocker)(nil)

// TryLock attempts pg_try_advisory_lock on the cycle key.
func (l *CycleLocker) TryLock(ctx context.Context, cycleID int64) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, &storage.PersistenceError{Op: "acquire lock connection", Err: err}
	}

	key := l.key(cycleID)

	var acquired bool
	err = l.pool.observe(ctx, "try_advisory_lock", func(ctx context.Context) error {
		return conn.QueryRow(ctx,
			`SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key,
		).Scan(&acquired)
	})
	if err != nil {
		conn.Release()
		return nil, false, &storage.PersistenceError{Op: "try advisory lock", Err: err}
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() { l.unlock(conn, key) })
	}
	return release, true, nil
}

func (l *CycleLocker) unlock(conn *pgxpool.Conn, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	var ok bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key).Scan(&ok)
	if err != nil || !ok {
		// Closing the session drops every lock it holds.
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

func (l *CycleLocker) key(cycleID int64) string {
	return lockPrefix + strconv.FormatInt(cycleID, 10)
}
