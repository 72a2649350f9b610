package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// ErrTxConflict is returned when a transaction keeps losing races after all
// retries are spent.
var ErrTxConflict = &apperr.ConflictError{Message: "concurrent update, retry"}

// Transactor runs functions inside PostgreSQL transactions and retries them
// when the database or a repository reports a lost race.
type Transactor struct {
	pool    *pgxpool.Pool
	retries int
}

// NewTransactor returns a Transactor. retries is the number of extra attempts
// after the first one fails with a retryable error.
func NewTransactor(pool *pgxpool.Pool, retries int) *Transactor {
	return &Transactor{pool: pool, retries: max(0, retries)}
}

// InTx runs fn inside a READ COMMITTED transaction. The transaction commits
// when fn returns nil and rolls back on any error or panic. A call nested in
// fn joins the outer transaction.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	for attempt := 0; ; attempt++ {
		err := pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(withTx(ctx, tx))
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= t.retries {
			if apperr.IsConflict(err) {
				return err
			}
			return ErrTxConflict
		}
		zctx.From(ctx).Debug("Retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

func retryable(err error) bool {
	if apperr.IsConflict(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// uniqueViolation reports whether err is a unique violation of constraint.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}
