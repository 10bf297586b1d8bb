package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventPaymentSent          = "payment.sent"
	EventPaymentReleased      = "payment.released"
	EventPaymentRejected      = "payment.rejected"
	EventStakeOpened          = "stake.opened"
	EventStakeReleased        = "stake.released"
	EventEarningAccrued       = "earning.accrued"
	EventDepositMinted        = "deposit.minted"
	EventPayoutRequested      = "withdrawal.payout_requested"
	EventWithdrawalCompleted  = "withdrawal.completed"
	EventWithdrawalFailed     = "withdrawal.failed"
	EventWithdrawalRejected   = "withdrawal.rejected"
	EventWorkflowStatusChange = "approval.status_changed"
)

// OutboxMessage 与账务变更同事务写入，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
