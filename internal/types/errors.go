package types

import (
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// PIPELINE ERROR MODEL
// =============================================================================
//
// Errors never cross node boundaries as Go panics or returned errors. Every
// node converts failures into PipelineError records appended to shared state,
// so the orchestrator can enumerate exactly which sub-queries failed and why.

// ErrorCode is the closed set of pipeline error codes.
type ErrorCode string

const (
	ErrCapabilityViolation ErrorCode = "CAPABILITY_VIOLATION"
	ErrMissingSQL          ErrorCode = "MISSING_SQL"
	ErrMissingDatasourceID ErrorCode = "MISSING_DATASOURCE_ID"
	ErrMissingLLM          ErrorCode = "MISSING_LLM"
	ErrIntentViolation     ErrorCode = "INTENT_VIOLATION"
	ErrSecurityViolation   ErrorCode = "SECURITY_VIOLATION"
	ErrSchemaRetrieval     ErrorCode = "SCHEMA_RETRIEVAL_FAILED"
	ErrPlanningFailure     ErrorCode = "PLANNING_FAILURE"
	ErrSQLGenFailed        ErrorCode = "SQL_GEN_FAILED"
	ErrExecutionFailed     ErrorCode = "EXECUTION_FAILED"
	ErrExecutionError      ErrorCode = "EXECUTION_ERROR"
	ErrExecutorCrash       ErrorCode = "EXECUTOR_CRASH"
	ErrSafeguardViolation  ErrorCode = "SAFEGUARD_VIOLATION"
	ErrPerformanceWarning  ErrorCode = "PERFORMANCE_WARNING"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInvalidState        ErrorCode = "INVALID_STATE"
	ErrAggregatorFailed    ErrorCode = "AGGREGATOR_FAILED"
	ErrPipelineTimeout     ErrorCode = "PIPELINE_TIMEOUT"
	ErrCancelled           ErrorCode = "CANCELLED"
	ErrUnknown             ErrorCode = "UNKNOWN_ERROR"
)

// Severity classifies how an error affects pipeline control flow.
type Severity string

const (
	// SeverityWarning is attached to state; the pipeline continues.
	SeverityWarning Severity = "warning"
	// SeverityError terminates the current sub-pipeline; may be retryable.
	SeverityError Severity = "error"
	// SeverityCritical terminates the whole pipeline.
	SeverityCritical Severity = "critical"
)

// PipelineError is the tagged error record accumulated in shared state.
// Message must be safe for user-facing surfaces: no stack traces, no raw SQL.
type PipelineError struct {
	ErrorID      string         `json:"error_id"`
	Source       string         `json:"source"` // node that produced the error
	Code         ErrorCode      `json:"error_code"`
	Message      string         `json:"safe_message"`
	Severity     Severity       `json:"severity"`
	Retryable    bool           `json:"retryable"`
	DatasourceID string         `json:"datasource_id,omitempty"`
	SubQueryID   string         `json:"sub_query_id,omitempty"`
	Stage        string         `json:"stage,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// NewError builds a PipelineError with a fresh error id.
func NewError(source string, code ErrorCode, severity Severity, format string, args ...any) PipelineError {
	return PipelineError{
		ErrorID:  uuid.NewString(),
		Source:   source,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
		// SECURITY_VIOLATION, CAPABILITY_VIOLATION and INTENT_VIOLATION are
		// never retryable regardless of what the caller sets afterwards.
		Retryable: severity == SeverityError && retryableByDefault(code),
	}
}

// Error implements error so a PipelineError can travel through call sites
// that expect one; node boundaries still use the record form.
func (e PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsPipelineError extracts a PipelineError from an error chain, or wraps an
// arbitrary error as UNKNOWN_ERROR with a sanitized message.
func AsPipelineError(source string, err error) PipelineError {
	if pe, ok := err.(PipelineError); ok {
		return pe
	}
	return NewError(source, ErrUnknown, SeverityError, "%v", err)
}

// WithDatasource tags the error with the owning datasource.
func (e PipelineError) WithDatasource(id string) PipelineError {
	e.DatasourceID = id
	return e
}

// WithSubQuery tags the error with the sub-query it belongs to.
func (e PipelineError) WithSubQuery(id string) PipelineError {
	e.SubQueryID = id
	return e
}

// WithStage records which sub-pipeline stage produced the error.
func (e PipelineError) WithStage(stage string) PipelineError {
	e.Stage = stage
	return e
}

// WithDetail attaches a structured detail to the error.
func (e PipelineError) WithDetail(key string, value any) PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NotRetryable clears the retryable bit.
func (e PipelineError) NotRetryable() PipelineError {
	e.Retryable = false
	return e
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrSecurityViolation, ErrCapabilityViolation, ErrIntentViolation,
		ErrPipelineTimeout, ErrCancelled, ErrSafeguardViolation:
		return false
	}
	return true
}

// IsTerminal reports whether the error ends the whole pipeline.
func (e PipelineError) IsTerminal() bool {
	return e.Severity == SeverityCritical
}

// HasCritical reports whether any error in the list is pipeline-terminal.
func HasCritical(errs []PipelineError) bool {
	for _, e := range errs {
		if e.IsTerminal() {
			return true
		}
	}
	return false
}

// HasRetryable reports whether at least one error permits a refinement retry
// and none forbids it outright.
func HasRetryable(errs []PipelineError) bool {
	retryable := false
	for _, e := range errs {
		if e.Severity == SeverityWarning {
			continue
		}
		if !e.Retryable {
			return false
		}
		retryable = true
	}
	return retryable
}
