package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/internal/storage/postgres"
	"github.com/bookleaf/assist/internal/storage/storagetest"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store connected to the test database with empty tables.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.NewStore(postgresTestDSN(t), nil)
	require.NoError(t, err, "NewStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		_ = store.TruncateForTest(context.Background())
		store.Close()
	})
	return store
}

func TestStore_Suite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.IdentityStore {
		return newTestStore(t)
	})
}

func TestNewStore_Unreachable(t *testing.T) {
	_, err := postgres.NewStore("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", nil)
	assert.Error(t, err)
}
