package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorRetryableDefaults(t *testing.T) {
	assert.True(t, NewError("n", ErrExecutionError, SeverityError, "boom").Retryable)
	assert.True(t, NewError("n", ErrPlanningFailure, SeverityError, "boom").Retryable)

	// Policy and control-flow codes never retry.
	for _, code := range []ErrorCode{
		ErrSecurityViolation, ErrCapabilityViolation, ErrIntentViolation,
		ErrPipelineTimeout, ErrCancelled, ErrSafeguardViolation,
	} {
		assert.False(t, NewError("n", code, SeverityError, "boom").Retryable, string(code))
	}

	// Warnings and criticals are not retry candidates either way.
	assert.False(t, NewError("n", ErrExecutionError, SeverityCritical, "boom").Retryable)
	assert.False(t, NewError("n", ErrPerformanceWarning, SeverityWarning, "boom").Retryable)
}

func TestBuilderMethodsCopy(t *testing.T) {
	base := NewError("executor", ErrExecutionError, SeverityError, "query failed")
	tagged := base.WithDatasource("sales").WithSubQuery("sq1").WithStage("execute").WithDetail("rows", 0)

	assert.Equal(t, "sales", tagged.DatasourceID)
	assert.Equal(t, "sq1", tagged.SubQueryID)
	assert.Equal(t, "execute", tagged.Stage)
	assert.Equal(t, 0, tagged.Details["rows"])

	// The original is untouched.
	assert.Empty(t, base.DatasourceID)
	assert.Nil(t, base.Details)

	assert.False(t, tagged.NotRetryable().Retryable)
	assert.True(t, tagged.Retryable)
}

func TestHasRetryable(t *testing.T) {
	retryable := NewError("n", ErrExecutionError, SeverityError, "x")
	blocked := NewError("n", ErrSecurityViolation, SeverityError, "x")
	warning := NewError("n", ErrPerformanceWarning, SeverityWarning, "x")

	assert.False(t, HasRetryable(nil))
	assert.True(t, HasRetryable([]PipelineError{retryable}))
	// Warnings neither enable nor veto a retry.
	assert.True(t, HasRetryable([]PipelineError{warning, retryable}))
	assert.False(t, HasRetryable([]PipelineError{warning}))
	// One non-retryable error vetoes the whole attempt.
	assert.False(t, HasRetryable([]PipelineError{retryable, blocked}))
}

func TestHasCritical(t *testing.T) {
	assert.False(t, HasCritical([]PipelineError{NewError("n", ErrExecutionError, SeverityError, "x")}))
	assert.True(t, HasCritical([]PipelineError{NewError("n", ErrMissingLLM, SeverityCritical, "x")}))
}

func TestAsPipelineError(t *testing.T) {
	pe := NewError("n", ErrExecutionError, SeverityError, "boom")
	assert.Equal(t, pe, AsPipelineError("other", pe))

	wrapped := AsPipelineError("other", errors.New("disk full"))
	assert.Equal(t, ErrUnknown, wrapped.Code)
	assert.Equal(t, "other", wrapped.Source)
	assert.Contains(t, wrapped.Message, "disk full")
}
