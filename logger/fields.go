package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across hammer.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID   = "run_id"
	FieldJobID   = "job_id"
	FieldFeature = "feature"
	FieldPart    = "part"
	FieldTrial   = "trial"
	FieldSeed    = "seed"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount   = "count"
	FieldBits    = "bits"
	FieldWorkers = "workers"

	// Files and paths
	FieldFile    = "file"
	FieldWorkDir = "work_dir"
	FieldCommand = "command"
	FieldExit    = "exit_code"
)

// Context keys for propagating logging context
type contextKey string

const (
	runIDKey contextKey = "logger_run_id"
	partKey  contextKey = "logger_part"
	jobIDKey contextKey = "logger_job_id"
	trialKey contextKey = "logger_trial"
)

// WithRunID adds a session run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithPart adds a device/part name to the context for logging
func WithPart(ctx context.Context, part string) context.Context {
	return context.WithValue(ctx, partKey, part)
}

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithTrial adds a dup trial index to the context for logging
func WithTrial(ctx context.Context, trial int) context.Context {
	return context.WithValue(ctx, trialKey, trial)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if part, ok := ctx.Value(partKey).(string); ok && part != "" {
		fields = append(fields, FieldPart, part)
	}
	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if trial, ok := ctx.Value(trialKey).(int); ok {
		fields = append(fields, FieldTrial, trial)
	}

	return fields
}

// FromContext returns base with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	s := session.New(backend, cfg, logger.ComponentLogger("session"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
