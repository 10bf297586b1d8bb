package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"treasury/internal/model"
	"treasury/internal/repository"

	"gorm.io/gorm"
)

// LedgerEvent 投递到 Kafka 的账务事件
type LedgerEvent struct {
	EventType  string      `json:"event_type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// eventWriter 与账务变更同事务写 outbox
type eventWriter struct {
	repo  *repository.OutboxRepository
	topic string
}

func newEventWriter(d Deps) *eventWriter {
	return &eventWriter{
		repo:  repository.NewOutboxRepository(d.DB),
		topic: d.Config.Kafka.Topic.LedgerEvents,
	}
}

func (w *eventWriter) emit(ctx context.Context, tx *gorm.DB, eventType, key string, at time.Time, data interface{}) error {
	payload, err := json.Marshal(LedgerEvent{EventType: eventType, OccurredAt: at, Data: data})
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      w.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := w.repo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
