package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// driver messages for unique violations, used when the dialector does not translate them
var duplicateKeyMessages = []string{
	"UNIQUE constraint failed",
	"Duplicate entry",
	"duplicate key value",
}

// IsDuplicate reports whether err is a unique index violation.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	for _, msg := range duplicateKeyMessages {
		if strings.Contains(err.Error(), msg) {
			return true
		}
	}

	return false
}

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// RecordIfAbsent inserts the deposit. The (nonce, chain_id) unique index decides between
// concurrent writers, so created is false when the deposit was already stored.
func (r *DepositRepository) RecordIfAbsent(deposit *DepositEvent) (created bool, err error) {
	if err := r.db.Create(deposit).Error; err != nil {
		if IsDuplicate(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (r *DepositRepository) ListUnprocessed() ([]*DepositEvent, error) {
	var deposits []*DepositEvent
	err := r.db.Model(&DepositEvent{}).Where("processed = ?", false).Order("id").Find(&deposits).Error
	if err != nil {
		return nil, err
	}

	return deposits, nil
}

func (r *DepositRepository) MarkProcessed(nonce string, chainId string) error {
	return markDepositProcessed(r.db, nonce, chainId)
}

func (r *DepositRepository) Get(nonce string, chainId string) (*DepositEvent, error) {
	var deposit DepositEvent
	err := r.db.Model(&DepositEvent{}).Where("nonce = ? AND chain_id = ?", nonce, chainId).First(&deposit).Error
	if err != nil {
		return nil, err
	}

	return &deposit, nil
}

func markDepositProcessed(db *gorm.DB, nonce string, chainId string) error {
	return db.Model(&DepositEvent{}).Where("nonce = ? AND chain_id = ?", nonce, chainId).
		Update("processed", true).Error
}

type DistributionRepository struct {
	db *gorm.DB
}

func NewDistributionRepository(db *gorm.DB) *DistributionRepository {
	return &DistributionRepository{db: db}
}

func (r *DistributionRepository) RecordIfAbsent(distribution *DistributionEvent) (created bool, err error) {
	if err := r.db.Create(distribution).Error; err != nil {
		if IsDuplicate(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (r *DistributionRepository) Exists(nonce string, chainId string) (bool, error) {
	var count int64
	result := r.db.Model(&DistributionEvent{}).Where("nonce = ? AND chain_id = ?", nonce, chainId).Count(&count)
	if result.Error != nil {
		return false, result.Error
	}

	return count > 0, nil
}

func (r *DistributionRepository) Get(nonce string, chainId string) (*DistributionEvent, error) {
	var distribution DistributionEvent
	err := r.db.Model(&DistributionEvent{}).Where("nonce = ? AND chain_id = ?", nonce, chainId).First(&distribution).Error
	if err != nil {
		return nil, err
	}

	return &distribution, nil
}

// Complete records the distribution, flips the deposit to processed and drops the pending
// release of the distribution in one transaction. An already recorded distribution is kept as is.
func (r *DistributionRepository) Complete(deposit *DepositEvent, distribution *DistributionEvent) error {
	return r.db.Transaction(func(dbtx *gorm.DB) error {
		err := dbtx.Clauses(clause.OnConflict{DoNothing: true}).Create(distribution).Error
		if err != nil && !IsDuplicate(err) {
			return err
		}
		if err := markDepositProcessed(dbtx, deposit.Nonce, deposit.ChainId); err != nil {
			return err
		}

		return Delete(dbtx, PendingReleaseKey(distribution.ChainId, distribution.Nonce))
	})
}

// PendingReleaseKey is the config key holding the hash of a release broadcast on chainId
// for nonce whose outcome is not recorded yet.
func PendingReleaseKey(chainId string, nonce string) string {
	return fmt.Sprintf("relayer/%s/pending/%s", chainId, nonce)
}

func (r *DistributionRepository) SavePendingRelease(nonce string, chainId string, txHash string) error {
	return Set(r.db, PendingReleaseKey(chainId, nonce), txHash)
}

// PendingRelease returns the hash of the release broadcast for nonce on chainId, if any.
func (r *DistributionRepository) PendingRelease(nonce string, chainId string) (txHash string, found bool, err error) {
	txHash, err = Get(r.db, PendingReleaseKey(chainId, nonce))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}

		return "", false, err
	}

	return txHash, true, nil
}

func (r *DistributionRepository) ClearPendingRelease(nonce string, chainId string) error {
	return Delete(r.db, PendingReleaseKey(chainId, nonce))
}
