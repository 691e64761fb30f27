package db

import "time"

type BaseTable struct {
	Id          int
	UpdatedTime time.Time `gorm:"autoUpdateTime"`
	CreatedTime time.Time `gorm:"autoCreateTime"`
}

type ConfigTable struct {
	Name  string `gorm:"type:varchar(128);uniqueIndex:uk_config_name"`
	Value string

	BaseTable
}

func (ConfigTable) TableName() string {
	return "config"
}

// DepositEvent is a Deposit log observed on the bridge contract of ChainId.
type DepositEvent struct {
	Token           string `gorm:"type:varchar(64);not null"`
	From            string `gorm:"column:from;type:varchar(64);not null"`
	To              string `gorm:"column:to;type:varchar(64);not null"`
	Amount          string `gorm:"type:varchar(80);not null"`
	Nonce           string `gorm:"type:varchar(80);not null;uniqueIndex:uk_deposit_event_nonce_chain"`
	ChainId         string `gorm:"type:varchar(32);not null;uniqueIndex:uk_deposit_event_nonce_chain"`
	TransactionHash string `gorm:"type:varchar(80)"`
	Processed       bool   `gorm:"not null;default:false"`

	BaseTable
}

func (DepositEvent) TableName() string {
	return "deposit_event"
}

// DistributionEvent is a release executed on ChainId for the deposit with the same Nonce
// on the opposite chain.
type DistributionEvent struct {
	Token           string `gorm:"type:varchar(64);not null"`
	To              string `gorm:"column:to;type:varchar(64);not null"`
	Amount          string `gorm:"type:varchar(80);not null"`
	Nonce           string `gorm:"type:varchar(80);not null;uniqueIndex:uk_distribution_event_nonce_chain"`
	ChainId         string `gorm:"type:varchar(32);not null;uniqueIndex:uk_distribution_event_nonce_chain"`
	TransactionHash string `gorm:"type:varchar(80)"`
	Processed       bool   `gorm:"not null;default:false"`

	BaseTable
}

func (DistributionEvent) TableName() string {
	return "distribution_event"
}
