package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"imagelens/internal/app"
	"imagelens/internal/config"
	"imagelens/internal/engine"
	"imagelens/internal/logging"
	rabbitmqClient "imagelens/internal/platform/rabbitmq"
	"imagelens/internal/upload"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Validator *upload.Validator
	Store     *upload.Store
	Engine    *engine.Limited
	Analysis  *app.AnalysisService
	MQConn    *amqp.Connection

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := logging.New(cfg.Log, cfg.App.Verbose)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg, logger)
}

// NewWithConfig wires the application from an already loaded config. The
// RabbitMQ connection is only opened when a URL is configured.
func NewWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := upload.NewStore(cfg.Upload.Dir)
	if err != nil {
		return nil, fmt.Errorf("init upload store failed: %w", err)
	}

	subprocess, err := engine.NewSubprocess(engine.SubprocessConfig{
		Command: cfg.Engine.Command,
		WorkDir: cfg.Engine.WorkDir,
		Timeout: cfg.EngineTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init analysis engine failed: %w", err)
	}
	limited := engine.NewLimited(subprocess, cfg.Engine.MaxConcurrent, cfg.EngineTimeout())

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Validator: upload.NewValidator(cfg.Upload.MaxBytes, cfg.Upload.AllowedExtensions),
		Store:     store,
		Engine:    limited,
		StartedAt: time.Now(),
	}

	var publisher app.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}
		a.MQConn = mqConn
		publisher = rabbitmqClient.NewEventPublisher(mqConn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
		logger.Info("analysis events enabled",
			zap.String("exchange", cfg.RabbitMQ.Exchange),
			zap.String("routing_key", cfg.RabbitMQ.RoutingKey),
		)
	}

	a.Analysis = app.NewAnalysisService(store, limited, publisher, cfg.Upload.Retain, logger)

	logger.Info("application wired",
		zap.String("upload_dir", store.Dir()),
		zap.Bool("retain_uploads", cfg.Upload.Retain),
		zap.Int64("max_upload_bytes", cfg.Upload.MaxBytes),
		zap.Strings("engine_command", cfg.Engine.Command),
		zap.Duration("engine_timeout", cfg.EngineTimeout()),
		zap.Int("engine_max_concurrent", limited.Capacity()),
	)
	return a, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
