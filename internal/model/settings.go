package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ApprovalFlowSingle    = "single"
	ApprovalFlowDual      = "dual"
	ApprovalFlowCommittee = "committee"
)

// TreasurySettings 企业资金策略
type TreasurySettings struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID           int64           `gorm:"uniqueIndex;not null" json:"account_id"`
	ApprovalThreshold   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"approval_threshold"`
	RiskFlagThreshold   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"risk_flag_threshold"`
	AutoApprovalEnabled bool            `gorm:"not null" json:"auto_approval_enabled"`
	AutoApprovalLimit   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"auto_approval_limit"` // 0 表示不设上限
	ApprovalWorkflow    string          `gorm:"type:varchar(20);not null" json:"approval_workflow"`
	CustomSteps         int             `gorm:"not null" json:"custom_steps"` // >0 时覆盖 ApprovalWorkflow 推导的步数
	RejectionsRequired  int             `gorm:"not null" json:"rejections_required"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TreasurySettings) TableName() string {
	return "treasury_settings"
}

// TotalSteps 审批所需人数：single=1, dual=2, committee=3
func (s *TreasurySettings) TotalSteps() int {
	if s.CustomSteps > 0 {
		return s.CustomSteps
	}
	switch s.ApprovalWorkflow {
	case ApprovalFlowDual:
		return 2
	case ApprovalFlowCommittee:
		return 3
	default:
		return 1
	}
}

// Rejections 终止流程所需的拒绝数，默认一票否决
func (s *TreasurySettings) Rejections() int {
	if s.RejectionsRequired > 0 {
		return s.RejectionsRequired
	}
	return 1
}

// RequiresApproval 金额超过阈值且不在自动审批额度内时需要走审批；触发风控阈值的一律审批
func (s *TreasurySettings) RequiresApproval(amount decimal.Decimal) bool {
	if s.RiskFlagged(amount) {
		return true
	}
	if !amount.GreaterThan(s.ApprovalThreshold) {
		return false
	}
	if !s.AutoApprovalEnabled {
		return true
	}
	return s.AutoApprovalLimit.IsPositive() && amount.GreaterThan(s.AutoApprovalLimit)
}

// RiskFlagged RiskFlagThreshold 为 0 表示未启用
func (s *TreasurySettings) RiskFlagged(amount decimal.Decimal) bool {
	return s.RiskFlagThreshold.IsPositive() && amount.GreaterThan(s.RiskFlagThreshold)
}
