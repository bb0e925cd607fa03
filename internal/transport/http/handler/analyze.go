package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"imagelens/internal/analysis"
	"imagelens/internal/app"
	"imagelens/internal/engine"
	"imagelens/internal/metrics"
	"imagelens/internal/model"
	"imagelens/internal/transport/http/middleware"
	"imagelens/internal/transport/http/response"
	"imagelens/internal/upload"
)

// AnalyzeHandler serves POST /analyze-image.
type AnalyzeHandler struct {
	validator *upload.Validator
	service   *app.AnalysisService
	verbose   bool
	logger    *zap.Logger
}

func NewAnalyzeHandler(validator *upload.Validator, service *app.AnalysisService, verbose bool, logger *zap.Logger) *AnalyzeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeHandler{
		validator: validator,
		service:   service,
		verbose:   verbose,
		logger:    logger,
	}
}

// Analyze accepts a multipart form with "image", stores it, runs the
// analysis engine on it and returns the canonical result.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	requestID := middleware.GetRequestID(c)

	candidate, err := h.validator.ReadMultipart(c.Writer, c.Request)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}

	result, err := h.service.Analyze(c.Request.Context(), app.AnalyzeInput{
		RequestID: requestID,
		Upload:    candidate,
	})
	if err != nil {
		h.fail(c, requestID, err)
		return
	}

	metrics.AnalysisRequests.WithLabelValues(model.OutcomeOK).Inc()
	response.OK(c, result)
}

func (h *AnalyzeHandler) fail(c *gin.Context, requestID string, err error) {
	_ = c.Error(err)

	var (
		validationErr *upload.ValidationError
		storageErr    *upload.StorageError
		invocationErr *engine.InvocationError
		parseErr      *analysis.ParseError
	)

	switch {
	case errors.As(err, &validationErr):
		metrics.AnalysisRequests.WithLabelValues(model.OutcomeValidationError).Inc()
		h.logger.Debug("upload rejected", zap.String("request_id", requestID), zap.Error(err))
		response.BadRequest(c, validationErr.Message())

	case errors.As(err, &storageErr):
		metrics.AnalysisRequests.WithLabelValues(model.OutcomeStorageError).Inc()
		response.Error(c, http.StatusInternalServerError, "Failed to store image",
			h.detail(err, "upload storage unavailable"))

	case errors.As(err, &invocationErr):
		metrics.AnalysisRequests.WithLabelValues(model.OutcomeInvocationError).Inc()
		generic := "analysis engine " + invocationErr.Reason
		if !h.verbose {
			response.Error(c, http.StatusInternalServerError, "Failed to analyze image", generic)
			return
		}
		details := invocationErr.Error()
		if stderr := strings.TrimSpace(string(invocationErr.Stderr)); stderr != "" {
			details = fmt.Sprintf("%s; stderr: %s", details, stderr)
		}
		response.ErrorWithOutput(c, http.StatusInternalServerError, "Failed to analyze image",
			details, string(invocationErr.Stdout))

	case errors.As(err, &parseErr):
		metrics.AnalysisRequests.WithLabelValues(model.OutcomeParseError).Inc()
		if !h.verbose {
			response.Error(c, http.StatusInternalServerError, "Failed to parse analysis result",
				"analysis engine output was not valid JSON")
			return
		}
		response.ErrorWithOutput(c, http.StatusInternalServerError, "Failed to parse analysis result",
			parseErr.Err.Error(), parseErr.RawOutput)

	default:
		metrics.AnalysisRequests.WithLabelValues("internal_error").Inc()
		h.logger.Error("unexpected analysis failure", zap.String("request_id", requestID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "Failed to analyze image",
			h.detail(err, "internal error"))
	}
}

func (h *AnalyzeHandler) detail(err error, generic string) string {
	if h.verbose {
		return err.Error()
	}
	return generic
}
