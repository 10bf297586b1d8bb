package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Earning 一次计息记录，只追加，不修改，不删除
// (stake_id, accrual_date) 唯一，保证同一计息日不会被记两次
type Earning struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StakeID     int64           `gorm:"uniqueIndex:uk_earning_stake_date;not null" json:"stake_id"`
	AccountID   int64           `gorm:"index;not null" json:"account_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	Days        int             `gorm:"not null" json:"days"`
	AccrualDate time.Time       `gorm:"uniqueIndex:uk_earning_stake_date;not null" json:"accrual_date"`
	Strategy    string          `gorm:"type:varchar(32);not null" json:"strategy"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Stake *Stake `gorm:"foreignKey:StakeID" json:"-"`
}

func (Earning) TableName() string {
	return "earning"
}
