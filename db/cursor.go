package db

import (
	"fmt"
	"strconv"

	"gorm.io/gorm"
)

// CursorKey is the key under which the last fully scanned block of chain is kept.
func CursorKey(chain string) string {
	return fmt.Sprintf("relayer/%s/sync-point", chain)
}

// ConfigCursorStore keeps scan cursors in the config table, next to the deposits.
type ConfigCursorStore struct {
	db *gorm.DB
}

func NewConfigCursorStore(db *gorm.DB) *ConfigCursorStore {
	return &ConfigCursorStore{db: db}
}

func (s *ConfigCursorStore) GetCursor(chain string) (uint64, bool, error) {
	return GetUint64(s.db, CursorKey(chain))
}

func (s *ConfigCursorStore) SetCursor(chain string, height uint64) error {
	return SetUint64(s.db, CursorKey(chain), height)
}

// LevelDBCursorStore keeps scan cursors in an embedded key/value store.
type LevelDBCursorStore struct {
	db IDB
}

func NewLevelDBCursorStore(db IDB) *LevelDBCursorStore {
	return &LevelDBCursorStore{db: db}
}

func (s *LevelDBCursorStore) GetCursor(chain string) (uint64, bool, error) {
	key := []byte(CursorKey(chain))
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return 0, false, err
	}

	val, err := s.db.Get(key)
	if err != nil {
		return 0, false, err
	}
	height, err := strconv.ParseUint(string(val), 10, 64)
	if err != nil {
		return 0, false, err
	}

	return height, true, nil
}

func (s *LevelDBCursorStore) SetCursor(chain string, height uint64) error {
	return s.db.Put([]byte(CursorKey(chain)), []byte(strconv.FormatUint(height, 10)))
}
