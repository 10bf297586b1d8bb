package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WorkflowTypePayment    = "payment"
	WorkflowTypeWithdrawal = "withdrawal"
)

const (
	WorkflowStatusPending  = "pending"
	WorkflowStatusApproved = "approved"
	WorkflowStatusRejected = "rejected"
	WorkflowStatusExpired  = "expired"
)

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// ApprovalWorkflow 大额操作的多人审批
// 审批数达到 TotalSteps 时转为 approved 并执行底层操作；拒绝数达到 RejectionsRequired 时转为 rejected
type ApprovalWorkflow struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkflowNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"workflow_no"`
	CompanyID          int64           `gorm:"index;not null" json:"company_id"`
	RequesterID        int64           `gorm:"not null" json:"requester_id"`
	Type               string          `gorm:"type:varchar(20);uniqueIndex:uk_workflow_request;not null" json:"type"`
	RequestID          int64           `gorm:"uniqueIndex:uk_workflow_request;not null" json:"request_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	TotalSteps         int             `gorm:"not null" json:"total_steps"`
	CurrentApprovals   int             `gorm:"not null" json:"current_approvals"`
	Rejections         int             `gorm:"not null" json:"rejections"`
	RejectionsRequired int             `gorm:"not null" json:"rejections_required"`
	Status             string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Approvals []Approval `gorm:"foreignKey:WorkflowID" json:"approvals,omitempty"`
}

func (ApprovalWorkflow) TableName() string {
	return "approval_workflow"
}

// Approval 单个审批人的决定，同一审批人对同一流程只能决定一次
type Approval struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkflowID int64     `gorm:"uniqueIndex:uk_approval_approver;not null" json:"workflow_id"`
	ApproverID int64     `gorm:"uniqueIndex:uk_approval_approver;not null" json:"approver_id"`
	Decision   string    `gorm:"type:varchar(20);not null" json:"decision"`
	Notes      string    `gorm:"type:varchar(512)" json:"notes"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Approval) TableName() string {
	return "approval"
}
