package db

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var testDBCounter atomic.Int64

// NewTestStore creates an in-memory store for tests. Each call gets its
// own named memory database so parallel tests stay isolated.
func NewTestStore(t *testing.T) Store {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_foreign_keys=on", testDBCounter.Add(1))
	sqlDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)

	// A single pinned connection keeps the memory database alive for
	// the whole test.
	sqlDB.SetMaxOpenConns(1)

	_, err = sqlDB.Exec(schemaSQL)
	require.NoError(t, err)

	store := &SQLStore{db: sqlDB, Queries: New(sqlDB)}
	t.Cleanup(func() { store.Close() })
	return store
}
