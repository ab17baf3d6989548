package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	chstore "amm-ledger/internal/storage/clickhouse"
)

const chVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version     UInt32,
    name        String,
    applied_at  DateTime DEFAULT now()
) ENGINE = MergeTree()
ORDER BY version`

var errSemicolonInLiteral = errors.New("semicolon inside a string literal")

// RunClickhouseMigrations creates the trade archive database named in dsn
// if missing, applies pending files and hands back a connection bound to it.
// ClickHouse has no DDL transactions: a file that fails halfway is retried
// in full on the next run, so every statement must be IF NOT EXISTS.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	all, err := load(Files, clickhouseDir)
	if err != nil {
		return nil, err
	}
	if err := ensureDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}
	if err := applyClickhouse(ctx, conn, all); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ensureDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db); err != nil {
		return fmt.Errorf("create clickhouse database %s: %w", db, err)
	}
	return nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn, all []migration) error {
	if err := conn.Exec(ctx, chVersionTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migrations: %w", err)
		}
		applied[int(v)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	for _, m := range pending(all, applied) {
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return fmt.Errorf("clickhouse migration %03d_%s: %w", m.Version, m.Name, err)
		}
		// The native driver runs one statement per Exec.
		for _, stmt := range splitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply clickhouse migration %03d_%s: %w", m.Version, m.Name, err)
			}
		}
		if err := conn.Exec(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			uint32(m.Version), m.Name); err != nil {
			return fmt.Errorf("record clickhouse migration %03d: %w", m.Version, err)
		}
	}
	return nil
}

// splitStatements drops blank and "--" comment lines and cuts the rest on
// ";". Literals and block comments are not understood, which is why files
// are checked with validateNoSemicolonInStrings first.
func splitStatements(sql string) []string {
	var body strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(body.String(), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with ";" inside a quoted
// literal. Doubled quotes ('') are an escape, not a terminator.
func validateNoSemicolonInStrings(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if quoted && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("offset %d: %w", i, errSemicolonInLiteral)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		return db, nil
	}
	return "", errors.New("clickhouse dsn has no database path")
}
