package model

import (
	"time"

	"imagelens/internal/analysis"
)

const (
	OutcomeOK              = "ok"
	OutcomeStorageError    = "storage_error"
	OutcomeInvocationError = "invocation_error"
	OutcomeParseError      = "parse_error"
	OutcomeValidationError = "validation_error"
)

// AnalysisEvent describes one finished pipeline run.
type AnalysisEvent struct {
	RequestID    string           `json:"request_id"`
	Outcome      string           `json:"outcome"`
	StoredName   string           `json:"stored_name,omitempty"`
	OriginalName string           `json:"original_name"`
	SizeBytes    int64            `json:"size_bytes"`
	Retained     bool             `json:"retained"`
	EngineMillis int64            `json:"engine_ms"`
	Error        string           `json:"error,omitempty"`
	Result       *analysis.Result `json:"result,omitempty"`
	FinishedAt   time.Time        `json:"finished_at"`
}

// RoutingSuffix distinguishes successful runs from failures for consumers
// that bind by routing key.
func (e AnalysisEvent) RoutingSuffix() string {
	if e.Outcome == OutcomeOK {
		return "analyzed"
	}
	return "failed"
}
