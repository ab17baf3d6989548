package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"amm-ledger/internal/storage/postgres"
)

const pgVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    name        TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies the ledger schema files not yet recorded in
// schema_migrations. Each file runs in its own transaction together with its
// version row, so a failed file leaves no partial trace.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	all, err := load(Files, postgresDir)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgVersionTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := pgApplied(ctx, pool)
	if err != nil {
		return err
	}

	for _, m := range pending(all, applied) {
		if strings.TrimSpace(m.SQL) == "" {
			continue
		}
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply postgres migration %03d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func pgApplied(ctx context.Context, pool *postgres.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[int(v)] = true
	}
	return applied, nil
}
