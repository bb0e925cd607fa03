package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagelens/internal/model"
)

type fakeChannel struct {
	declared  []string
	exchanges []string
	exchange  string
	key       string
	published []amqp.Publishing
	closed    bool
	pubErr    error
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange = exchange
	f.key = key
	f.published = append(f.published, msg)
	return f.pubErr
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func opener(ch *fakeChannel) ChannelOpener {
	return func() (Channel, error) { return ch, nil }
}

func TestPublishToDefaultExchangeDeclaresQueue(t *testing.T) {
	ch := &fakeChannel{}
	pub := NewEventPublisherWithOpener(opener(ch), "", "image.analysis")

	err := pub.Publish(context.Background(), model.AnalysisEvent{RequestID: "r1", Outcome: model.OutcomeOK})
	require.NoError(t, err)

	assert.Equal(t, []string{"image.analysis"}, ch.declared)
	assert.Equal(t, "", ch.exchange)
	assert.Equal(t, "image.analysis", ch.key)
	assert.True(t, ch.closed)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "r1", msg.MessageId)
	assert.Equal(t, "image.analyzed", msg.Type)

	var decoded model.AnalysisEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "r1", decoded.RequestID)
}

func TestPublishToExchangeUsesOutcomeRoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	pub := NewEventPublisherWithOpener(opener(ch), "events", "image")

	err := pub.Publish(context.Background(), model.AnalysisEvent{Outcome: model.OutcomeParseError})
	require.NoError(t, err)

	assert.Empty(t, ch.declared)
	assert.Equal(t, []string{"events:topic"}, ch.exchanges)
	assert.Equal(t, "events", ch.exchange)
	assert.Equal(t, "image.failed", ch.key)
	assert.Equal(t, "image.failed", ch.published[0].Type)
}

func TestPublishErrors(t *testing.T) {
	pub := NewEventPublisherWithOpener(func() (Channel, error) {
		return nil, errors.New("connection closed")
	}, "", "q")
	assert.ErrorContains(t, pub.Publish(context.Background(), model.AnalysisEvent{}), "open rabbitmq channel")

	ch := &fakeChannel{pubErr: errors.New("nack")}
	pub = NewEventPublisherWithOpener(opener(ch), "", "q")
	assert.ErrorContains(t, pub.Publish(context.Background(), model.AnalysisEvent{}), "publish analysis event")
	assert.True(t, ch.closed)
}
