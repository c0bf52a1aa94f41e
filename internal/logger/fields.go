package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names. Use these instead of raw strings so log queries
// work across the executor, the store and the API.
const (
	FieldRunID    = "run_id"
	FieldPipeline = "pipeline"
	FieldStage    = "stage"
	FieldStep     = "step"
	FieldRule     = "rule"
	FieldColumn   = "column"
	FieldSeverity = "severity"

	FieldRecords    = "records"
	FieldRowsIn     = "rows_in"
	FieldRowsOut    = "rows_out"
	FieldDurationMS = "duration_ms"

	FieldStatus = "status"
	FieldState  = "state"
	FieldError  = "error"

	FieldPath   = "path"
	FieldSource = "source"
	FieldSink   = "sink"
	FieldMethod = "method"
)

type contextKey string

const runIDKey contextKey = "logger_run_id"

// WithRunID stores a run id on the context for FromContext.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// FromContext returns base enriched with the run id carried by ctx, if any.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		return base.With(FieldRunID, runID)
	}
	return base
}

// WithRun returns a child logger tagged with the run id and pipeline name.
func WithRun(parent *zap.SugaredLogger, runID, pipeline string) *zap.SugaredLogger {
	return OrNop(parent).With(FieldRunID, runID, FieldPipeline, pipeline)
}
