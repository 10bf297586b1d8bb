package model

import (
	"time"
)

const (
	AuditStakeOpened       = "stake_opened"
	AuditStakeReleased     = "stake_released"
	AuditPaymentSent       = "payment_sent"
	AuditPaymentQueued     = "payment_awaiting_approval"
	AuditPaymentReleased   = "payment_released"
	AuditPaymentRejected   = "payment_rejected"
	AuditWithdrawalCreated = "withdrawal_requested"
	AuditWithdrawalDone    = "withdrawal_completed"
	AuditWithdrawalFailed  = "withdrawal_failed"
	AuditWithdrawalReject  = "withdrawal_rejected"
	AuditDepositMinted     = "deposit_minted"
	AuditEarningAccrued    = "earning_accrued"
	AuditWorkflowCreated   = "approval_requested"
	AuditWorkflowDecision  = "approval_recorded"
	AuditWorkflowApproved  = "approval_completed"
	AuditWorkflowRejected  = "approval_rejected"
	AuditWorkflowExpired   = "approval_expired"
	AuditSettingsUpdated   = "treasury_settings_updated"
	AuditRiskFlagged       = "risk_flagged"
)

// SystemActorID 后台任务写审计时使用的操作人
const SystemActorID int64 = 0

// AuditLog 特权操作审计，只追加
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID   int64     `gorm:"index;not null" json:"actor_id"`
	Action    string    `gorm:"type:varchar(64);index;not null" json:"action"`
	TargetID  string    `gorm:"type:varchar(64);index" json:"target_id"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}
