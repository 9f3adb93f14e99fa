package ingest

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interop/pamgw/internal/platform/db"
)

// Txer runs a function inside one serializable transaction. The domain
// pipeline commits or rolls back as a whole through it.
type Txer interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

type pgTxer struct {
	pool *pgxpool.Pool
}

func NewTxer(pool *pgxpool.Pool) Txer {
	return &pgTxer{pool: pool}
}

func (t *pgTxer) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tx, err := db.WithTx(ctx, t.pool, db.Serializable)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// NopTxer runs the function directly, for stores that do their own locking.
type NopTxer struct{}

func (NopTxer) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
