package job

import (
	"context"
	"log"
	"time"

	"treasury/internal/infrastructure/metrics"
	"treasury/internal/infrastructure/mq"
	"treasury/internal/model"
	"treasury/internal/repository"
)

// OutboxSender 把 PENDING 的 outbox 消息投递到 Kafka
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     mq.Publisher
	metrics       *metrics.Metrics
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(outboxRepo *repository.OutboxRepository, publisher mq.Publisher, m *metrics.Metrics, batchSize, maxRetryCount int) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    outboxRepo,
		publisher:     publisher,
		metrics:       m,
		batchSize:     batchSize,
		maxRetryCount: maxRetryCount,
	}
}

// ProcessPending 投递一批待发送消息，单条失败只影响自己的重试计数
func (s *OutboxSender) ProcessPending(ctx context.Context) error {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return err
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
	return nil
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		s.metrics.OutboxResult("sent")
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		}
		return
	}

	log.Printf("[OutboxSender] 消息发送失败: id=%d, event=%s, err=%v", msg.ID, msg.EventType, err)

	if msg.RetryCount+1 >= s.maxRetryCount {
		s.metrics.OutboxResult("failed")
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		return
	}

	s.metrics.OutboxResult("retry")
	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}
}

// Runner 以 outbox 的轮询间隔调度 ProcessPending
func (s *OutboxSender) Runner(interval time.Duration, opts ...Option) *Runner {
	return NewRunner(OutboxSenderName, interval, s.ProcessPending, opts...)
}
