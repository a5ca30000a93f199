package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/credit-batch/internal/worker/domain"
)

const testJobID = "7d9f3c1e-2a4b-4c6d-8e0f-1a2b3c4d5e6f"

type ackCall struct {
	tag     uint64
	ack     bool
	requeue bool
}

// fakeAcknowledger records how deliveries were settled
type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) settled() []ackCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackCall(nil), a.calls...)
}

type fakeSubscriber struct {
	deliveries chan amqp.Delivery
	err        error
	prefetch   int
}

func (s *fakeSubscriber) Consume(_ string, prefetch int) (<-chan amqp.Delivery, error) {
	s.prefetch = prefetch
	if s.err != nil {
		return nil, s.err
	}
	return s.deliveries, nil
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

func TestDecodeJobMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: fmt.Sprintf(`{"job_id":%q}`, testJobID)},
		{name: "extra fields", body: fmt.Sprintf(`{"job_id":%q,"account_id":"acc-1"}`, testJobID)},
		{name: "not json", body: "job please", wantErr: true},
		{name: "missing id", body: `{}`, wantErr: true},
		{name: "not a uuid", body: `{"job_id":"job-1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := domain.DecodeJobMessage([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testJobID, msg.JobID)
		})
	}
}

func TestSettlementFor(t *testing.T) {
	assert.Equal(t, settleAck, settlementFor(nil))
	assert.Equal(t, settleRequeue, settlementFor(domain.NewRetryableError(errors.New("db down"))))
	assert.Equal(t, settleDrop, settlementFor(domain.ErrInvalidPayload))
	assert.Equal(t, "requeue", settleRequeue.String())
}

func TestDispatcher_DropsUndecodableMessages(t *testing.T) {
	w := newTestWorker(&fakeStore{}, newTestLedger(t, 10), 0)
	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(ack, 7, `{"job_id":"nope"}`)
	close(deliveries)

	w.startMessageDispatcher(context.Background(), deliveries)

	assert.Equal(t, []ackCall{{tag: 7}}, ack.settled())
}

func TestDispatcher_RequeuesOnShutdown(t *testing.T) {
	w := newTestWorker(&fakeStore{}, newTestLedger(t, 10), 0)
	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(ack, 3, fmt.Sprintf(`{"job_id":%q}`, testJobID))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		// no pool is reading jobsChan, so the dispatcher blocks until cancel
		w.startMessageDispatcher(ctx, deliveries)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []ackCall{{tag: 3, requeue: true}}, ack.settled())
}

func TestWorker_StartProcessesAndAcks(t *testing.T) {
	store := &fakeStore{job: &domain.Job{AccountID: "acc-1", Payload: submissionJSON(t, "acc-1", 2, 1), MaxRetries: 1}}
	w := newTestWorker(store, newTestLedger(t, 10), 0)
	sub := &fakeSubscriber{deliveries: make(chan amqp.Delivery, 2)}
	w.queue = sub
	w.prefetchCount = 4

	ack := &fakeAcknowledger{}
	sub.deliveries <- delivery(ack, 1, fmt.Sprintf(`{"job_id":%q}`, testJobID))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(ack.settled()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	w.Stop()

	assert.Equal(t, []ackCall{{tag: 1, ack: true}}, ack.settled())
	assert.Equal(t, 4, sub.prefetch)
	assert.Equal(t, domain.JobStatusCompleted, store.lastUpdate(t).status)
}

func TestWorker_StartFailsWithoutQueue(t *testing.T) {
	w := newTestWorker(&fakeStore{}, newTestLedger(t, 10), 0)
	w.queue = &fakeSubscriber{err: errors.New("channel closed")}

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestWorker_StartReturnsWhenDeliveriesClose(t *testing.T) {
	w := newTestWorker(&fakeStore{}, newTestLedger(t, 10), 0)
	sub := &fakeSubscriber{deliveries: make(chan amqp.Delivery)}
	close(sub.deliveries)
	w.queue = sub

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := w.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery channel closed")

	cancel()
	w.Stop()
}
