package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury/pkg/errs"
)

type recordingHandler struct {
	funds     []string
	confirmed []int64
	failed    map[int64]string
	err       error
}

func (h *recordingHandler) FundsReceived(_ context.Context, accountID int64, amount decimal.Decimal, referenceID string) error {
	h.funds = append(h.funds, referenceID+":"+amount.String())
	return h.err
}

func (h *recordingHandler) PayoutConfirmed(_ context.Context, withdrawalID int64, _ string) error {
	h.confirmed = append(h.confirmed, withdrawalID)
	return h.err
}

func (h *recordingHandler) PayoutFailed(_ context.Context, withdrawalID int64, reason string) error {
	if h.failed == nil {
		h.failed = map[int64]string{}
	}
	h.failed[withdrawalID] = reason
	return h.err
}

func TestDispatchRoutesByEventType(t *testing.T) {
	h := &recordingHandler{}
	c := NewProcessorConsumer(h, 0)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, &sarama.ConsumerMessage{
		Value: []byte(`{"type":"funds_received","account_id":3,"amount":"250.5","reference_id":"dep-1"}`),
	}))
	require.NoError(t, c.Dispatch(ctx, &sarama.ConsumerMessage{
		Value: []byte(`{"type":"payout_confirmed","withdrawal_id":9}`),
	}))
	require.NoError(t, c.Dispatch(ctx, &sarama.ConsumerMessage{
		Value: []byte(`{"type":"payout_failed","withdrawal_id":10,"reason":"bank rejected"}`),
	}))
	require.NoError(t, c.Dispatch(ctx, &sarama.ConsumerMessage{
		Value: []byte(`{"type":"something_else"}`),
	}))

	assert.Equal(t, []string{"dep-1:250.5"}, h.funds)
	assert.Equal(t, []int64{9}, h.confirmed)
	assert.Equal(t, "bank rejected", h.failed[10])
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	c := NewProcessorConsumer(&recordingHandler{}, 0)
	err := c.Dispatch(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")})
	require.Error(t, err)
	assert.NotEqual(t, errs.KindInternal, errs.KindOf(err))
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	boom := errors.New("db down")
	c := NewProcessorConsumer(&recordingHandler{err: boom}, 0)
	err := c.Dispatch(context.Background(), &sarama.ConsumerMessage{
		Value: []byte(`{"type":"payout_confirmed","withdrawal_id":1}`),
	})
	assert.ErrorIs(t, err, boom)
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *fakeSession) Context() context.Context {
	return context.Background()
}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage {
	return c.messages
}

func claimOf(values ...string) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		ch <- &sarama.ConsumerMessage{Offset: int64(i), Value: []byte(v)}
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func TestConsumeClaimLeavesConflictsForRedelivery(t *testing.T) {
	h := &recordingHandler{err: errs.WithCause(errs.ErrConflict, errors.New("version mismatch"))}
	c := NewProcessorConsumer(h, 0)
	session := &fakeSession{}

	err := c.ConsumeClaim(session, claimOf(
		`{"type":"funds_received","account_id":3,"amount":"10","reference_id":"dep-1"}`,
		`{"type":"funds_received","account_id":3,"amount":"20","reference_id":"dep-2"}`,
	))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
	assert.Empty(t, session.marked)
	assert.Equal(t, []string{"dep-1:10"}, h.funds)
}

func TestConsumeClaimMarksRejectedEvents(t *testing.T) {
	h := &recordingHandler{err: errs.ErrAlreadyTerminal}
	c := NewProcessorConsumer(h, 0)
	session := &fakeSession{}

	err := c.ConsumeClaim(session, claimOf(
		"not json",
		`{"type":"payout_confirmed","withdrawal_id":9}`,
	))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, session.marked)

	// 基础设施错误同样不提交
	h.err = errors.New("db down")
	session = &fakeSession{}
	require.Error(t, c.ConsumeClaim(session, claimOf(`{"type":"payout_confirmed","withdrawal_id":9}`)))
	assert.Empty(t, session.marked)
}

func TestProducerPublish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"id":1}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(sp)
	require.NoError(t, p.Publish("treasury.ledger.events", "PMT1", `{"id":1}`))
	assert.ErrorIs(t, p.Publish("treasury.ledger.events", "PMT2", `{"id":2}`), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
