package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type cursorStore interface {
	GetCursor(chain string) (uint64, bool, error)
	SetCursor(chain string, height uint64) error
}

func testCursorStore(t *testing.T, store cursorStore) {
	_, found, err := store.GetCursor("A")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetCursor("A", 100))
	require.NoError(t, store.SetCursor("B", 7))
	require.NoError(t, store.SetCursor("A", 200))

	height, found, err := store.GetCursor("A")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(200), height)

	height, found, err = store.GetCursor("B")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(7), height)
}

func TestConfigCursorStore(t *testing.T) {
	gormDB := newTestDB(t)
	testCursorStore(t, NewConfigCursorStore(gormDB))

	val, err := Get(gormDB, "relayer/A/sync-point")
	require.NoError(t, err)
	assert.Equal(t, "200", val)
}

func TestLevelDBCursorStore(t *testing.T) {
	ldb, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })

	testCursorStore(t, NewLevelDBCursorStore(ldb))
}

func TestConfigKV(t *testing.T) {
	gormDB := newTestDB(t)

	_, err := Get(gormDB, "k")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, Set(gormDB, "k", "1"))
	require.NoError(t, Set(gormDB, "k", "2"))

	val, err := Get(gormDB, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", val)

	var count int64
	require.NoError(t, gormDB.Model(&ConfigTable{}).Where("name = ?", "k").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, Delete(gormDB, "k"))
	_, err = Get(gormDB, "k")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
