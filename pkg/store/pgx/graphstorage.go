package pgx

import (
	"context"
	"sync"

	"github.com/graphloom/loom/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStore implements store.GraphStore on PostgreSQL with pgvector
// for similarity search. Writes are serialized with a mutex so a worker
// never interleaves two batches on one connection pool.
type GraphDBStore struct {
	conn   pgxIConn
	dbLock sync.Mutex
}

var _ store.GraphStore = (*GraphDBStore)(nil)

// NewGraphDBStoreWithConnection creates a new GraphDBStore using an
// existing connection or pool. The connection must have pgvector types
// registered.
func NewGraphDBStoreWithConnection(ctx context.Context, conn pgxIConn) (*GraphDBStore, error) {
	return &GraphDBStore{
		conn:   conn,
		dbLock: sync.Mutex{},
	}, nil
}
