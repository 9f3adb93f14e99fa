package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey carries the active transaction through a context so repositories
// join it transparently.
const DBTxKey contextKey = "db_tx"

// Querier is the common surface of pool, connection and transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxFromContext returns the transaction bound to ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the pool and returns a derived context that
// repositories will pick up via TxFromContext.
func WithTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions) (context.Context, pgx.Tx, error) {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// Serializable are the transaction options for state-machine-relevant updates
// (dossier current_state, sequence allocation).
var Serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// ReadCommitted are the options for demographic edits and read paths.
var ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// IsSerializationFailure reports whether err is a PostgreSQL serialization or
// deadlock failure the caller may retry.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsNoRows reports whether err is pgx.ErrNoRows anywhere in the chain.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
