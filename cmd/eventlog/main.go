// Command eventlog tails the analysis events published by the server and
// writes them to the structured log.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"imagelens/internal/config"
	"imagelens/internal/logging"
	rabbitmqClient "imagelens/internal/platform/rabbitmq"
	"imagelens/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if cfg.RabbitMQ.URL == "" {
		log.Fatal("RABBITMQ_URL is not set; there are no events to consume")
	}

	logger, err := logging.New(cfg.Log, cfg.App.Verbose)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("connect rabbitmq failed", zap.Error(err))
	}
	defer conn.Close()

	w := worker.NewAnalysisEventWorker(conn, cfg.RabbitMQ, worker.LogEvents(logger.Named("events")), logger)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("start event worker failed", zap.Error(err))
	}

	select {
	case <-ctx.Done():
	case amqpErr := <-conn.NotifyClose(make(chan *amqp.Error, 1)):
		if amqpErr != nil {
			logger.Error("rabbitmq connection closed", zap.String("reason", amqpErr.Reason), zap.Int("code", amqpErr.Code))
		}
	}
	w.Close()
}
