package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"imagelens/internal/analysis"
	"imagelens/internal/engine"
	"imagelens/internal/metrics"
	"imagelens/internal/model"
	"imagelens/internal/upload"
)

var ErrNoUpload = errors.New("no upload given")

type EventPublisher interface {
	Publish(ctx context.Context, event model.AnalysisEvent) error
}

// AnalysisService runs the store, invoke and normalize steps for an upload
// that already passed validation. Every failure is terminal for the request.
type AnalysisService struct {
	store     *upload.Store
	engine    engine.Engine
	publisher EventPublisher
	retain    bool
	logger    *zap.Logger
}

type AnalyzeInput struct {
	RequestID string
	Upload    *upload.Candidate
}

// NewAnalysisService builds the pipeline. publisher may be nil. When retain
// is false the stored file is removed as soon as the run finishes.
func NewAnalysisService(
	store *upload.Store,
	eng engine.Engine,
	publisher EventPublisher,
	retain bool,
	logger *zap.Logger,
) *AnalysisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisService{
		store:     store,
		engine:    eng,
		publisher: publisher,
		retain:    retain,
		logger:    logger.Named("analysis"),
	}
}

func (s *AnalysisService) Analyze(ctx context.Context, input AnalyzeInput) (*analysis.Result, error) {
	if input.Upload == nil {
		return nil, ErrNoUpload
	}
	log := s.logger.With(zap.String("request_id", input.RequestID))
	event := model.AnalysisEvent{
		RequestID:    input.RequestID,
		OriginalName: input.Upload.OriginalName,
		SizeBytes:    input.Upload.Size(),
		Retained:     s.retain,
	}
	metrics.UploadBytes.Observe(float64(input.Upload.Size()))

	img, err := s.store.Save(input.Upload)
	if err != nil {
		log.Error("store upload failed", zap.Error(err))
		s.finish(ctx, log, event, model.OutcomeStorageError, nil, err)
		return nil, err
	}
	event.StoredName = img.Name()
	if !s.retain {
		defer func() {
			if err := s.store.Remove(img); err != nil {
				log.Warn("remove upload failed", zap.Error(err))
			}
		}()
	}
	log.Debug("upload stored",
		zap.String("original_name", img.OriginalName),
		zap.String("path", img.StoragePath),
		zap.Int64("size_bytes", img.SizeBytes),
	)

	inv, err := s.engine.Analyze(ctx, img.StoragePath)
	if inv != nil {
		event.EngineMillis = inv.Duration.Milliseconds()
	}
	if err != nil {
		log.Error("analysis engine failed", zap.Error(err))
		s.finish(ctx, log, event, model.OutcomeInvocationError, nil, err)
		return nil, err
	}

	raw, err := analysis.Parse(inv.Stdout)
	if err != nil {
		log.Error("parse engine output failed", zap.Error(err))
		log.Debug("raw engine output", zap.ByteString("stdout", inv.Stdout))
		s.finish(ctx, log, event, model.OutcomeParseError, nil, err)
		return nil, err
	}
	if msg, ok := raw.EngineError(); ok {
		log.Warn("analysis engine reported an error in its payload", zap.String("engine_error", msg))
	}

	result := analysis.Normalize(raw)
	s.finish(ctx, log, event, model.OutcomeOK, &result, nil)
	return &result, nil
}

func (s *AnalysisService) finish(
	ctx context.Context,
	log *zap.Logger,
	event model.AnalysisEvent,
	outcome string,
	result *analysis.Result,
	err error,
) {
	event.Outcome = outcome
	event.Result = result
	event.FinishedAt = time.Now().UTC()
	if err != nil {
		event.Error = err.Error()
	}
	if s.publisher == nil {
		return
	}

	// The request may already be canceled; the event should still go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		log.Warn("publish analysis event failed", zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}
