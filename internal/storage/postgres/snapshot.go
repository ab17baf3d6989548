package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"amm-ledger/internal/storage"
)

var _ storage.Snapshotter = (*Ledger)(nil)

// Snapshot reads every user, currency and wallet in one read-only
// REPEATABLE READ transaction.
func (l *Ledger) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", mapError(err))
	}
	defer tx.Rollback(ctx)

	r := reader{q: tx}
	s := &storage.Snapshot{}

	if s.Users, err = scanAll(ctx, tx, `SELECT `+userColumns+` FROM users ORDER BY id`, scanUser); err != nil {
		return nil, fmt.Errorf("snapshot users: %w", err)
	}
	if s.Currencies, err = r.Currencies(ctx); err != nil {
		return nil, fmt.Errorf("snapshot currencies: %w", err)
	}
	if s.Wallets, err = scanAll(ctx, tx, `SELECT `+walletColumns+` FROM wallets ORDER BY user_id, currency_id`, scanWallet); err != nil {
		return nil, fmt.Errorf("snapshot wallets: %w", err)
	}
	return s, tx.Commit(ctx)
}

func scanAll[T any](ctx context.Context, q querier, sql string, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

