package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	sqlite, err := NewSQLite(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return sqlite
}

func TestNewSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chronicle.db")
	sqlite, err := NewSQLite(path, nil)
	require.NoError(t, err)
	defer sqlite.Close()

	assert.NoError(t, sqlite.HealthCheck(context.Background()))

	var mode string
	require.NoError(t, sqlite.WriteDB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestNewSQLite_MemoryDatabasesAreIsolated(t *testing.T) {
	a := newTestSQLite(t)
	b := newTestSQLite(t)

	_, err := a.WriteDB.Exec(`INSERT INTO users (id, role, updated_at) VALUES ('1', 'editor', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	var count int
	require.NoError(t, a.ReadDB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, b.ReadDB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestValidateDatabasePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"memory", ":memory:", false},
		{"relative", "data/chronicle.db", false},
		{"empty", "", true},
		{"traversal", "../etc/chronicle.db", true},
		{"null byte", "data/chron\x00icle.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDatabasePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	sqlite := newTestSQLite(t)
	ctx := context.Background()

	err := sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (id, role, updated_at) VALUES ('1', 'editor', '2024-01-01T00:00:00Z')`)
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 0, count)
}
