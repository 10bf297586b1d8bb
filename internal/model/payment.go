package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusAwaitingApproval = "awaiting_approval"
	PaymentStatusPending          = "pending"
	PaymentStatusReleased         = "released"
	PaymentStatusRejected         = "rejected"
)

// Payment 账户间转账，收款方收到的金额按 LockDays 锁定
type Payment struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	FromID     int64           `gorm:"index;not null" json:"from_id"`
	ToID       int64           `gorm:"index;not null" json:"to_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	LockDays   int             `gorm:"not null" json:"lock_days"`
	Status     string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ReleaseAt  time.Time       `gorm:"index;not null" json:"release_at"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
	WorkflowID *int64          `gorm:"index" json:"workflow_id,omitempty"`
	Memo       string          `gorm:"type:varchar(256)" json:"memo"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	From *Account `gorm:"foreignKey:FromID" json:"-"`
	To   *Account `gorm:"foreignKey:ToID" json:"-"`
}

func (Payment) TableName() string {
	return "payment"
}

const (
	LockStatusLocked   = "locked"
	LockStatusConsumed = "consumed"
)

const (
	LockSourcePayment = "payment"
)

// LockedBalance 对账户余额的预留，到 ReleaseAt 之后释放
// 释放后标记为 consumed 保留记录；(source_type, source_id) 唯一，一笔付款只对应一条锁
type LockedBalance struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  int64           `gorm:"index;not null" json:"account_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	SourceType string          `gorm:"type:varchar(20);uniqueIndex:uk_lock_source;not null" json:"source_type"`
	SourceID   int64           `gorm:"uniqueIndex:uk_lock_source;not null" json:"source_id"`
	Status     string          `gorm:"type:varchar(20);index:idx_lock_status_release;not null" json:"status"`
	ReleaseAt  time.Time       `gorm:"index:idx_lock_status_release;not null" json:"release_at"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Account *Account `gorm:"foreignKey:AccountID" json:"-"`
}

func (LockedBalance) TableName() string {
	return "locked_balance"
}
