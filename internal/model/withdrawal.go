package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusAwaitingApproval = "awaiting_approval"
	WithdrawalStatusProcessing       = "processing"
	WithdrawalStatusCompleted        = "completed"
	WithdrawalStatusFailed           = "failed"
	WithdrawalStatusRejected         = "rejected"
)

// Withdrawal 稳定币赎回为法币
// processing 时代币已销毁（扣减余额），由外部支付通道回调 completed / failed
type Withdrawal struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	AccountID     int64           `gorm:"index;not null" json:"account_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	BankRef       string          `gorm:"type:varchar(64);not null" json:"bank_ref"`
	Status        string          `gorm:"type:varchar(20);index;not null" json:"status"`
	WorkflowID    *int64          `gorm:"index" json:"workflow_id,omitempty"`
	PayoutRef     string          `gorm:"type:varchar(64)" json:"payout_ref,omitempty"`
	FailureReason string          `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Account *Account `gorm:"foreignKey:AccountID" json:"-"`
}

func (Withdrawal) TableName() string {
	return "withdrawal"
}

// Deposit 外部通道确认到账后的铸币记录，ReferenceID 唯一用于回调去重
type Deposit struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceID string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"reference_id"`
	AccountID   int64           `gorm:"index;not null" json:"account_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Account *Account `gorm:"foreignKey:AccountID" json:"-"`
}

func (Deposit) TableName() string {
	return "deposit"
}
