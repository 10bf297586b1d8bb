package job

import (
	"context"
	"errors"
	"testing"

	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePublisher struct {
	failKeys map[string]bool
	sent     []string
}

func (p *fakePublisher) Publish(topic, key, value string) error {
	if p.failKeys[key] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, key)
	return nil
}

func seedOutbox(t *testing.T, db *gorm.DB, key string, retryCount int) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  model.EventPaymentSent,
		Topic:      "treasury.ledger.events",
		Payload:    `{"event_type":"payment.sent"}`,
		Status:     model.OutboxStatusPending,
		RetryCount: retryCount,
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func reloadOutbox(t *testing.T, db *gorm.DB, id int64) *model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return &msg
}

func TestOutboxSenderProcessPending(t *testing.T) {
	db := testutil.NewDB(t)
	ok := seedOutbox(t, db, "ok", 0)
	retry := seedOutbox(t, db, "retry", 0)
	exhausted := seedOutbox(t, db, "exhausted", 2)

	pub := &fakePublisher{failKeys: map[string]bool{"retry": true, "exhausted": true}}
	sender := NewOutboxSender(repository.NewOutboxRepository(db), pub, nil, 10, 3)

	require.NoError(t, sender.ProcessPending(context.Background()))
	assert.Equal(t, []string{"ok"}, pub.sent)

	assert.Equal(t, model.OutboxStatusSent, reloadOutbox(t, db, ok.ID).Status)

	got := reloadOutbox(t, db, retry.ID)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	got = reloadOutbox(t, db, exhausted.ID)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)

	// 已发送或已失败的消息不会再次投递
	pub.failKeys = nil
	require.NoError(t, sender.ProcessPending(context.Background()))
	assert.Equal(t, []string{"ok", "retry"}, pub.sent)
}
