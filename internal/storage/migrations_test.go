package storage_test

import (
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_authors.up.sql":   {Data: []byte("CREATE TABLE authors (id TEXT PRIMARY KEY);")},
		"001_authors.down.sql": {Data: []byte("DROP TABLE authors;")},
		"002_notes.up.sql":     {Data: []byte("CREATE TABLE notes (id TEXT PRIMARY KEY);")},
		"README.md":            {Data: []byte("ignored")},
		"x_bad.up.sql":         {Data: []byte("not sql")},
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestMigrationManager_Up(t *testing.T) {
	db := openTestDB(t)

	mgr, err := storage.NewMigrationManager(db, testMigrations())
	require.NoError(t, err)

	_, err = mgr.Version()
	assert.True(t, errors.Is(err, storage.ErrNoMigration))

	require.NoError(t, mgr.Up())
	v, err := mgr.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, tableExists(t, db, "authors"))
	assert.True(t, tableExists(t, db, "notes"))

	// Re-running is a no-op, and stray down files are never executed.
	require.NoError(t, mgr.Up())
	assert.True(t, tableExists(t, db, "authors"))
	v, err = mgr.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestNewMigrationManager_RequiresInputs(t *testing.T) {
	_, err := storage.NewMigrationManager(nil, testMigrations())
	assert.Error(t, err)

	_, err = storage.NewMigrationManager(openTestDB(t), nil)
	assert.Error(t, err)
}
