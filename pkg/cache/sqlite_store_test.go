package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	c := New(store, DefaultTTL, zap.NewNop())
	stored := rel("orders", "users")
	require.NoError(t, c.Put(stored))

	c2 := New(store, DefaultTTL, zap.NewNop())
	got, ok := c2.Get("users", "orders")
	require.True(t, ok)
	assert.Equal(t, stored.Key(), got.Key())

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"orders_users"}, keys)
}

func TestSQLiteStoreUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	c := New(store, DefaultTTL, zap.NewNop())
	require.NoError(t, c.Put(rel("orders", "users")))
	require.NoError(t, c.Put(rel("orders", "users")))

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestSQLiteStoreDeleteMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Delete("nope"))
}
