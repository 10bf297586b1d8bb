package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeMint           = "MINT"
	TransactionTypePaymentOut     = "PAYMENT_OUT"
	TransactionTypePaymentIn      = "PAYMENT_IN"
	TransactionTypeStake          = "STAKE"
	TransactionTypeUnstake        = "UNSTAKE"
	TransactionTypeInterest       = "INTEREST"
	TransactionTypeWithdraw       = "WITHDRAW"
	TransactionTypeWithdrawRefund = "WITHDRAW_REFUND"
)

// AccountTransaction 账户流水表，记录每一笔余额变动
//
// 1. 只追加，不修改，不删除
// 2. 与余额变更在同一事务内写入
// 3. 记录变动前后余额，便于对账
type AccountTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	AccountID     int64           `gorm:"index;not null" json:"account_id"`
	BalanceKind   BalanceKind     `gorm:"type:varchar(10);not null" json:"balance_kind"`
	Type          string          `gorm:"type:varchar(20);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"` // 正数入账，负数出账
	BalanceBefore decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"balance_after"`
	Reference     string          `gorm:"type:varchar(64);index" json:"reference"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
