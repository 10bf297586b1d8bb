package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StakeStatusActive   = "active"
	StakeStatusUnlocked = "unlocked"
)

const (
	StakeSourceManual = "manual"
)

// Stake 从账户可用余额中划出的计息锁仓，只做逻辑释放（status=unlocked），不物理删除
type Stake struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StakeNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"stake_no"`
	AccountID  int64           `gorm:"index;not null" json:"account_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	AnnualRate decimal.Decimal `gorm:"type:decimal(12,8);not null" json:"annual_rate"`
	Source     string          `gorm:"type:varchar(20);not null" json:"source"`
	Status     string          `gorm:"type:varchar(20);index;not null" json:"status"`
	StartTime  time.Time       `gorm:"not null" json:"start_time"`
	EndTime    time.Time       `gorm:"index;not null" json:"end_time"`
	UnlockedAt *time.Time      `json:"unlocked_at,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Account *Account `gorm:"foreignKey:AccountID" json:"-"`
}

func (Stake) TableName() string {
	return "stake"
}

func (s *Stake) Unlocked() bool {
	return s.Status == StakeStatusUnlocked
}

// Matured 到期判断
func (s *Stake) Matured(now time.Time) bool {
	return !now.Before(s.EndTime)
}

// AccrualEnd 计息截止时间：到期日与释放时间中较早者
func (s *Stake) AccrualEnd() time.Time {
	if s.UnlockedAt != nil && s.UnlockedAt.Before(s.EndTime) {
		return *s.UnlockedAt
	}
	return s.EndTime
}
