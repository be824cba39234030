// Package storetest provides in-memory stores for tests.
package storetest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vestfoldfylke/azf-nettsperre/internal/database"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/gormstore"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory SQLite database with all tables migrated.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// NewStores returns the active and history stores over a fresh database.
func NewStores(t testing.TB) (active, history *gormstore.Store, db *gorm.DB) {
	t.Helper()
	db = NewDB(t)
	return gormstore.New(db, gormstore.ActiveTable), gormstore.New(db, gormstore.HistoryTable), db
}
