package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"treasury/internal/config"
	"treasury/pkg/errs"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
)

// 支付通道回调事件类型
const (
	EventFundsReceived   = "funds_received"
	EventPayoutConfirmed = "payout_confirmed"
	EventPayoutFailed    = "payout_failed"
)

// ProcessorEvent 外部支付通道推送的异步事件
type ProcessorEvent struct {
	Type         string          `json:"type"`
	AccountID    int64           `json:"account_id,omitempty"`
	Amount       decimal.Decimal `json:"amount,omitempty"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	WithdrawalID int64           `json:"withdrawal_id,omitempty"`
	PayoutRef    string          `json:"payout_ref,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// ProcessorHandler 事件落账方，每个事件在独立事务中处理
type ProcessorHandler interface {
	FundsReceived(ctx context.Context, accountID int64, amount decimal.Decimal, referenceID string) error
	PayoutConfirmed(ctx context.Context, withdrawalID int64, payoutRef string) error
	PayoutFailed(ctx context.Context, withdrawalID int64, reason string) error
}

// ProcessorConsumer 消费支付通道事件，实现 sarama.ConsumerGroupHandler
type ProcessorConsumer struct {
	handler ProcessorHandler
	timeout time.Duration
}

func NewProcessorConsumer(handler ProcessorHandler, timeout time.Duration) *ProcessorConsumer {
	return &ProcessorConsumer{handler: handler, timeout: timeout}
}

// NewConsumerGroup 创建消费组
func NewConsumerGroup(cfg *config.KafkaConfig) (sarama.ConsumerGroup, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 消费组失败: %w", err)
	}
	return group, nil
}

// Run 持续消费直到 ctx 取消；rebalance 后 Consume 返回，需要循环调用
func (c *ProcessorConsumer) Run(ctx context.Context, group sarama.ConsumerGroup, topic string) {
	log.Printf("[ProcessorConsumer] 启动，topic=%s", topic)
	go func() {
		for err := range group.Errors() {
			log.Printf("[ProcessorConsumer] 消费组错误: %v", err)
		}
	}()

	for {
		if err := group.Consume(ctx, []string{topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			log.Printf("[ProcessorConsumer] Consume 失败: %v", err)
		}
		if ctx.Err() != nil {
			log.Println("[ProcessorConsumer] 已停止")
			return
		}
	}
}

func (c *ProcessorConsumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *ProcessorConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理；业务错误（重复、状态已终结等）视为已处理
// 基础设施错误和并发冲突不提交 offset，等待重投
func (c *ProcessorConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := c.Dispatch(session.Context(), msg)
		if retryable(err) {
			log.Printf("[ProcessorConsumer] 处理失败，等待重投: partition=%d, offset=%d, err=%v",
				msg.Partition, msg.Offset, err)
			return err
		}
		if err != nil {
			log.Printf("[ProcessorConsumer] 事件被拒绝: offset=%d, err=%v", msg.Offset, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func retryable(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindInternal, errs.KindConflict:
		return true
	}
	return false
}

// Dispatch 解码一条事件并交给 handler
func (c *ProcessorConsumer) Dispatch(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event ProcessorEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errs.WithCause(errs.ErrInvalidRequest, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	switch event.Type {
	case EventFundsReceived:
		return c.handler.FundsReceived(ctx, event.AccountID, event.Amount, event.ReferenceID)
	case EventPayoutConfirmed:
		return c.handler.PayoutConfirmed(ctx, event.WithdrawalID, event.PayoutRef)
	case EventPayoutFailed:
		return c.handler.PayoutFailed(ctx, event.WithdrawalID, event.Reason)
	default:
		log.Printf("[ProcessorConsumer] 忽略未知事件类型: %s", event.Type)
		return nil
	}
}
