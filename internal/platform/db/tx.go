package db

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DBTxKey contextKey = "db_tx"

// Queryable is the subset of pgx shared by pools, connections and transactions.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxFromContext returns the transaction started by WithTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection stored in ctx and
// returns a context carrying it. Inside an existing transaction it opens a
// savepoint instead.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	var (
		tx  pgx.Tx
		err error
	)
	if outer := TxFromContext(ctx); outer != nil {
		tx, err = outer.Begin(ctx)
	} else if conn := ConnFromContext(ctx); conn != nil {
		tx, err = conn.Begin(ctx)
	} else {
		return ctx, nil, errors.New("no database connection in context")
	}
	if err != nil {
		return ctx, nil, errors.Wrap(err, "begin transaction")
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// InTx runs fn in a transaction, or in a savepoint when ctx already
// carries one, committing only when fn succeeds. Without a pinned tenant
// connection fn runs directly against the pool.
func InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) == nil && ConnFromContext(ctx) == nil {
		return fn(ctx)
	}
	txCtx, tx, err := WithTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.WithSecondaryError(err, rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit transaction")
}

// Conn picks the most specific handle available: the request transaction,
// then the tenant connection, then the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// MaxParallel caps worker fan-out for work that queries through Conn. A
// pinned tenant connection or transaction serves one query at a time.
func MaxParallel(ctx context.Context, n int) int {
	if n < 1 {
		return 1
	}
	if TxFromContext(ctx) != nil || ConnFromContext(ctx) != nil {
		return 1
	}
	return n
}

// IsUniqueViolation reports whether err is a Postgres unique_violation,
// optionally restricted to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
