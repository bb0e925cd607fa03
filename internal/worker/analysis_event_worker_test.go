package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"imagelens/internal/analysis"
	"imagelens/internal/config"
	"imagelens/internal/model"
)

type fakeChannel struct {
	deliveries chan amqp.Delivery
	queues     []string
	exchanges  []string
	bindings   []string
	consumed   string
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.queues = append(f.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, exchange+"->"+name+"@"+key)
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.consumed = queue
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeAck struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAck) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, body any) amqp.Delivery {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case string:
		data = []byte(b)
	default:
		var err error
		data, err = json.Marshal(b)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: data}
}

func TestWorkerBindsQueueToExchange(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	cfg := config.RabbitMQConfig{Exchange: "imagelens", RoutingKey: "image.analysis", Queue: "audit"}
	w := NewAnalysisEventWorkerWithOpener(func() (Channel, error) { return ch, nil }, cfg,
		func(context.Context, model.AnalysisEvent) error { return nil }, zaptest.NewLogger(t))

	require.NoError(t, w.Start(context.Background()))
	w.Close()

	assert.Equal(t, []string{"audit"}, ch.queues)
	assert.Equal(t, []string{"imagelens:topic"}, ch.exchanges)
	assert.Equal(t, []string{"imagelens->audit@image.analysis.*"}, ch.bindings)
	assert.Equal(t, "audit", ch.consumed)
	assert.True(t, ch.closed)
}

func TestWorkerDefaultExchangeConsumesRoutingKeyQueue(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	cfg := config.RabbitMQConfig{RoutingKey: "image.analysis", Queue: "ignored"}
	w := NewAnalysisEventWorkerWithOpener(func() (Channel, error) { return ch, nil }, cfg,
		func(context.Context, model.AnalysisEvent) error { return nil }, nil)

	require.NoError(t, w.Start(context.Background()))
	w.Close()

	assert.Equal(t, []string{"image.analysis"}, ch.queues)
	assert.Empty(t, ch.exchanges)
	assert.Empty(t, ch.bindings)
}

func TestWorkerAcksHandledAndDropsBadEvents(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 3)}
	ack := &fakeAck{}
	var handled []string
	handle := func(_ context.Context, event model.AnalysisEvent) error {
		handled = append(handled, event.RequestID)
		if event.RequestID == "boom" {
			return errors.New("handler failed")
		}
		return nil
	}
	w := NewAnalysisEventWorkerWithOpener(func() (Channel, error) { return ch, nil },
		config.RabbitMQConfig{RoutingKey: "q"}, handle, zaptest.NewLogger(t))

	ch.deliveries <- delivery(t, ack, 1, model.AnalysisEvent{RequestID: "ok", Outcome: model.OutcomeOK})
	ch.deliveries <- delivery(t, ack, 2, "{not json")
	ch.deliveries <- delivery(t, ack, 3, model.AnalysisEvent{RequestID: "boom"})
	close(ch.deliveries)

	require.NoError(t, w.Start(context.Background()))
	w.wg.Wait()
	w.Close()

	assert.Equal(t, []string{"ok", "boom"}, handled)
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3}, ack.nacked)
}

func TestWorkerStartErrors(t *testing.T) {
	w := NewAnalysisEventWorkerWithOpener(func() (Channel, error) {
		return nil, errors.New("connection closed")
	}, config.RabbitMQConfig{RoutingKey: "q"}, nil, nil)
	assert.ErrorContains(t, w.Start(context.Background()), "open worker channel")
}

func TestLogEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handle := LogEvents(zap.New(core))

	require.NoError(t, handle(context.Background(), model.AnalysisEvent{
		RequestID:  "r1",
		Outcome:    model.OutcomeOK,
		Result:     &analysis.Result{Description: "a cat", Sentiment: "Positive"},
		FinishedAt: time.Now(),
	}))
	require.NoError(t, handle(context.Background(), model.AnalysisEvent{
		RequestID: "r2",
		Outcome:   model.OutcomeParseError,
		Error:     "parse engine output: invalid character",
	}))

	finished := logs.FilterMessage("analysis finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "a cat", finished[0].ContextMap()["description"])

	failed := logs.FilterMessage("analysis failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, "parse_error", failed[0].ContextMap()["outcome"])
}
