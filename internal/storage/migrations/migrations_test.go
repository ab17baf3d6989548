package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Memory", stmts[1])
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'a''b' FROM t;"))
	assert.ErrorIs(t, validateNoSemicolonInStrings("SELECT 'a;b' FROM t;"), errSemicolonInLiteral)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/ledger")
	require.NoError(t, err)
	assert.Equal(t, "ledger", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := load(Files, postgresDir)
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, 1, pg[0].Version)
	assert.Equal(t, "ledger", pg[0].Name)

	ch, err := load(Files, clickhouseDir)
	require.NoError(t, err)
	require.Len(t, ch, 1)
	require.NoError(t, validateNoSemicolonInStrings(ch[0].SQL))
	assert.Len(t, splitStatements(ch[0].SQL), 1)
}

func TestLoadOrdersAndRejects(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_late.sql":  {Data: []byte("SELECT 10;")},
		"m/002_early.sql": {Data: []byte("SELECT 2;")},
		"m/README.md":     {Data: []byte("ignored")},
	}
	got, err := load(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int{2, 10}, []int{got[0].Version, got[1].Version})

	fsys["m/02_dup.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	_, err = load(fsys, "m")
	assert.ErrorContains(t, err, "version 2")

	_, err = load(fstest.MapFS{"m/init.sql": {Data: []byte("x")}}, "m")
	assert.Error(t, err)
}

func TestPending(t *testing.T) {
	all := []migration{{Version: 1}, {Version: 2}, {Version: 3}}
	todo := pending(all, map[int]bool{1: true, 3: true})
	require.Len(t, todo, 1)
	assert.Equal(t, 2, todo[0].Version)
}
