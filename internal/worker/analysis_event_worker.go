package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"imagelens/internal/config"
	"imagelens/internal/model"
	rabbitmqClient "imagelens/internal/platform/rabbitmq"
)

// Channel is the subset of *amqp.Channel the worker consumes through.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type EventHandler func(ctx context.Context, event model.AnalysisEvent) error

const prefetch = 16

// AnalysisEventWorker consumes the analysis events the server publishes.
type AnalysisEventWorker struct {
	open     func() (Channel, error)
	cfg      config.RabbitMQConfig
	handle   EventHandler
	logger   *zap.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	startMux sync.Mutex
}

func NewAnalysisEventWorker(conn *amqp.Connection, cfg config.RabbitMQConfig, handle EventHandler, logger *zap.Logger) *AnalysisEventWorker {
	return NewAnalysisEventWorkerWithOpener(func() (Channel, error) {
		return conn.Channel()
	}, cfg, handle, logger)
}

func NewAnalysisEventWorkerWithOpener(open func() (Channel, error), cfg config.RabbitMQConfig, handle EventHandler, logger *zap.Logger) *AnalysisEventWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisEventWorker{
		open:   open,
		cfg:    cfg,
		handle: handle,
		logger: logger.Named("event_worker"),
	}
}

func (w *AnalysisEventWorker) Start(ctx context.Context) error {
	w.startMux.Lock()
	defer w.startMux.Unlock()
	if w.cancel != nil {
		return nil
	}

	ch, err := w.open()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	queue := w.cfg.EventQueue()
	if err := w.declare(ch, queue); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.logger.Info("consuming analysis events", zap.String("queue", queue))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()
		w.run(workerCtx, deliveries)
	}()
	return nil
}

func (w *AnalysisEventWorker) declare(ch Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if w.cfg.Exchange == "" {
		return nil
	}
	if err := ch.ExchangeDeclare(w.cfg.Exchange, rabbitmqClient.ExchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange failed: %w", err)
	}
	if err := ch.QueueBind(queue, w.cfg.RoutingKey+".*", w.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind worker queue failed: %w", err)
	}
	return nil
}

func (w *AnalysisEventWorker) run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				w.logger.Warn("delivery channel closed")
				return
			}
			w.process(ctx, d)
		}
	}
}

// process acks handled events. Undecodable or failed events are dropped
// rather than requeued so one bad message cannot block the queue.
func (w *AnalysisEventWorker) process(ctx context.Context, d amqp.Delivery) {
	var event model.AnalysisEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		w.logger.Warn("decode analysis event failed", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := w.handle(ctx, event); err != nil {
		w.logger.Warn("handle analysis event failed", zap.String("request_id", event.RequestID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (w *AnalysisEventWorker) Close() {
	w.startMux.Lock()
	cancel := w.cancel
	w.startMux.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// LogEvents writes each event as a structured log line.
func LogEvents(logger *zap.Logger) EventHandler {
	return func(_ context.Context, event model.AnalysisEvent) error {
		fields := []zap.Field{
			zap.String("request_id", event.RequestID),
			zap.String("outcome", event.Outcome),
			zap.String("original_name", event.OriginalName),
			zap.String("stored_name", event.StoredName),
			zap.Int64("size_bytes", event.SizeBytes),
			zap.Int64("engine_ms", event.EngineMillis),
			zap.Time("finished_at", event.FinishedAt),
		}
		if event.Outcome != model.OutcomeOK {
			logger.Warn("analysis failed", append(fields, zap.String("error", event.Error))...)
			return nil
		}
		if event.Result != nil {
			fields = append(fields,
				zap.String("description", event.Result.Description),
				zap.String("sentiment", event.Result.Sentiment),
			)
		}
		logger.Info("analysis finished", fields...)
		return nil
	}
}
