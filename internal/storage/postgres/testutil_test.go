package postgres

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres boots a throwaway postgres and returns its DSN.
// The container is removed when the test ends.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: needs docker")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// applySchema runs the ledger SQL files directly. The migrations package
// imports this one, so its runner is not reachable from here.
func applySchema(t *testing.T, pool *Pool) {
	t.Helper()
	schema := os.DirFS("../migrations")
	files, err := fs.Glob(schema, "postgres/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no ledger schema files")

	for _, f := range files {
		body, err := fs.ReadFile(schema, f)
		require.NoError(t, err)
		_, err = pool.Exec(context.Background(), string(body))
		require.NoError(t, err, "apply %s", f)
	}
}

// newTestLedger returns a ledger over a fresh, migrated database.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	pool, err := NewPool(context.Background(), startPostgres(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applySchema(t, pool)
	return NewLedger(pool)
}
