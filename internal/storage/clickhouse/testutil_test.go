package clickhouse

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const archiveImage = "clickhouse/clickhouse-server:24.1-alpine"

// newTestConn starts ClickHouse with an "archive" database, creates the
// trades table and returns a connection to it.
func newTestConn(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: needs docker")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        archiveImage,
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_DB": "archive"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("9000/tcp"),
				wait.ForLog("Ready for connections"),
			).WithDeadline(time.Minute),
		},
	})
	require.NoError(t, err, "start clickhouse")
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	endpoint, err := ctr.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://default@%s/archive", endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ddl, err := os.ReadFile("../migrations/clickhouse/001_trades.sql")
	require.NoError(t, err)
	require.NoError(t, conn.Exec(ctx, strings.TrimRight(strings.TrimSpace(string(ddl)), ";")))
	return conn
}
