package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// Verify txStorage implements storage.Transaction at compile time.
var _ storage.Transaction = (*txStorage)(nil)

// txStorage implements storage.Transaction over a dedicated connection with
// an active transaction.
type txStorage struct {
	conn *sql.Conn
}

func (t *txStorage) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

func (t *txStorage) InsertVersion(ctx context.Context, v *types.WorkItemVersion) error {
	return insertVersion(ctx, t, v)
}

func (t *txStorage) InsertConflicts(ctx context.Context, conflicts []*types.Conflict) error {
	return insertConflicts(ctx, t, conflicts)
}

func (t *txStorage) ResolveConflict(ctx context.Context, id int64, status types.ConflictStatus, strategy types.ResolutionStrategy, resolvedValue any, resolvedBy string, resolvedAt time.Time) (bool, error) {
	return resolveConflict(ctx, t, id, status, strategy, resolvedValue, resolvedBy, resolvedAt)
}

func (t *txStorage) InsertResolution(ctx context.Context, res *types.ConflictResolution) error {
	return insertResolution(ctx, t, res)
}

func (t *txStorage) UpsertSyncedItem(ctx context.Context, configID int64, sourceItemID, targetItemID string, at time.Time) error {
	return upsertSyncedItem(ctx, t, configID, sourceItemID, targetItemID, at)
}

func (t *txStorage) InsertSyncError(ctx context.Context, e *types.SyncError) error {
	return insertSyncError(ctx, t, e)
}

// RunInTransaction executes fn within a database transaction.
//
// The transaction uses BEGIN IMMEDIATE to acquire the write lock up front,
// preventing deadlocks when multiple goroutines compete for it. On error or
// panic the transaction is rolled back; the panic is re-raised.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even after cancellation.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txStorage{conn: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// withTx is the internal transaction helper for multi-statement store
// methods (mapping inserts and the like).
func (s *Store) withTx(ctx context.Context, fn func(tx execer) error) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return fn(tx.(*txStorage))
	})
}

// beginImmediateWithRetry starts an IMMEDIATE transaction, retrying with
// linear backoff when another writer holds the lock.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "SQLITE_BUSY") && !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * delay):
		}
	}
	return err
}
