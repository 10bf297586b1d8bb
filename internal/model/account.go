package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceKind 账户上两种互相独立的余额
type BalanceKind string

const (
	BalanceStable BalanceKind = "stable" // 可生息稳定单位（UC）
	BalanceToken  BalanceKind = "token"  // 铸造的稳定币（USDE）
)

func (k BalanceKind) Valid() bool {
	return k == BalanceStable || k == BalanceToken
}

const (
	KYCStatusPending  = "pending"
	KYCStatusApproved = "approved"
	KYCStatusRejected = "rejected"
)

// Account 企业账户表
// 余额在任何已提交事务之后都必须 >= 0；FrozenAmount 是 TokenBalance 中被锁定的部分
type Account struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string          `gorm:"type:varchar(128);not null" json:"name"`
	Email           string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Role            string          `gorm:"type:varchar(32);not null" json:"role"`
	KYCStatus       string          `gorm:"column:kyc_status;type:varchar(20);not null" json:"kyc_status"`
	ParentAccountID *int64          `gorm:"index" json:"parent_account_id,omitempty"`
	IsEnterprise    bool            `gorm:"not null" json:"is_enterprise"`
	StableBalance   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"stable_balance"`
	TokenBalance    decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"token_balance"`
	FrozenAmount    decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"frozen_amount"`
	TotalEarnings   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"total_earnings"`
	Version         int             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// Balance 按类别取余额
func (a *Account) Balance(kind BalanceKind) decimal.Decimal {
	if kind == BalanceStable {
		return a.StableBalance
	}
	return a.TokenBalance
}

// Available 可动用余额，稳定币需扣除锁定部分
func (a *Account) Available(kind BalanceKind) decimal.Decimal {
	if kind == BalanceStable {
		return a.StableBalance
	}
	return a.TokenBalance.Sub(a.FrozenAmount)
}

// CompanyID 企业层级中审批策略的归属方
func (a *Account) CompanyID() int64 {
	if a.ParentAccountID != nil {
		return *a.ParentAccountID
	}
	return a.ID
}
