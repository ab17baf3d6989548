package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"amm-ledger/internal/storage"
)

// Pool is the shared pgx pool behind the ledger.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings. pool_max_conns and friends are read from
// the DSN by pgxpool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}
	return &Pool{Pool: p}, nil
}

// SQLSTATE codes the ledger maps. 23514 fires on the user and wallet
// CHECK (balance >= 0) constraints.
var sqlStateErrors = map[string]error{
	"23505": storage.ErrDuplicateKey, // unique_violation
	"23503": storage.ErrNotFound,     // foreign_key_violation
	"23514": storage.ErrInvalidInput, // check_violation
	"40001": storage.ErrConflict,     // serialization_failure
	"40P01": storage.ErrConflict,     // deadlock_detected
}

// mapError rewrites driver errors as storage sentinels, keeping the driver
// message. Anything unrecognised is returned as is.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	sentinel, ok := sqlStateErrors[pgErr.Code]
	if !ok {
		return err
	}
	if pgErr.ConstraintName != "" {
		return fmt.Errorf("%w: %s (%s)", sentinel, pgErr.Message, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %s", sentinel, pgErr.Message)
}
