package db

import (
	"errors"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Set stores value under key in the config table, replacing the previous value in place.
func Set(db *gorm.DB, key string, value string) error {
	entry := ConfigTable{Name: key, Value: value}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_time"}),
	}).Create(&entry).Error
}

// Get returns the value stored under key, gorm.ErrRecordNotFound when there is none.
func Get(db *gorm.DB, key string) (string, error) {
	var entry ConfigTable
	if err := db.Where("name = ?", key).First(&entry).Error; err != nil {
		return "", err
	}

	return entry.Value, nil
}

// Delete removes key. Deleting a missing key is not an error.
func Delete(db *gorm.DB, key string) error {
	return db.Where("name = ?", key).Delete(&ConfigTable{}).Error
}

// GetUint64 retrieves the value of a key from the database and converts it to an uint64.
// found is false when the key was never set.
func GetUint64(db *gorm.DB, key string) (value uint64, found bool, err error) {
	val, err := Get(db, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}

		return 0, false, err
	}

	value, err = strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, err
	}

	return value, true, nil
}

// SetUint64 sets uint64 value of a key in the database
func SetUint64(db *gorm.DB, key string, value uint64) error {
	return Set(db, key, strconv.FormatUint(value, 10))
}
