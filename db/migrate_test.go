package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateCreatesSchema(t *testing.T) {
	conn := openTestDB(t)
	require.NoError(t, Migrate(conn, nil))

	// kv_entries must exist and accept writes
	_, err := conn.Exec(`INSERT INTO kv_entries (key, value, updated_at) VALUES ('k', X'01', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	// Every migration is recorded
	var applied int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	require.GreaterOrEqual(t, applied, 2)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openTestDB(t)
	require.NoError(t, Migrate(conn, nil))

	var before int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&before))

	require.NoError(t, Migrate(conn, nil))

	var after int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&after))
	require.Equal(t, before, after)
}

func TestOpenAppliesPragmas(t *testing.T) {
	conn := openTestDB(t)

	var journalMode string
	require.NoError(t, conn.QueryRow(`PRAGMA journal_mode`).Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)
}
