package migrations

import "embed"

// Files holds the SQL sources, one directory per backend.
//
//go:embed postgres/*.sql clickhouse/*.sql
var Files embed.FS

const (
	postgresDir   = "postgres"
	clickhouseDir = "clickhouse"
)
