package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryloom/internal/config"
	"queryloom/internal/types"
)

// =============================================================================
// REDACTION
// =============================================================================

func TestRedactScrubsSensitiveKeysRecursively(t *testing.T) {
	in := map[string]any{
		"query":         "top customers",
		"api_key":       "sk-live-123",
		"DB_PASSWORD":   "hunter2",
		"Authorization": "Bearer abc",
		"nested": map[string]any{
			"client_secret": "shh",
			"kept":          "visible",
		},
		"list": []any{
			map[string]any{"password_hash": "x"},
			"plain",
		},
	}
	out := Redact(in)

	assert.Equal(t, "top customers", out["query"])
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "[REDACTED]", out["DB_PASSWORD"])
	assert.Equal(t, "[REDACTED]", out["Authorization"])

	nested := out["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["client_secret"])
	assert.Equal(t, "visible", nested["kept"])

	list := out["list"].([]any)
	assert.Equal(t, "[REDACTED]", list[0].(map[string]any)["password_hash"])
	assert.Equal(t, "plain", list[1])

	// The input is left untouched.
	assert.Equal(t, "sk-live-123", in["api_key"])
}

func TestRedactNil(t *testing.T) {
	assert.Nil(t, Redact(nil))
}

// =============================================================================
// AUDITOR
// =============================================================================

func TestAuditorWritesRedactedJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	a := NewAuditor(config.AuditConfig{FilePath: path})

	a.Emit(EventLLMInteraction, "trace-1", "acme", map[string]any{
		"agent":   "planner",
		"api_key": "sk-123",
	})
	a.Emit(EventPipelineEnd, "trace-1", "acme", nil)
	require.NoError(t, a.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)

	assert.Equal(t, EventLLMInteraction, records[0].EventType)
	assert.Equal(t, "trace-1", records[0].TraceID)
	assert.Equal(t, "acme", records[0].TenantID)
	assert.Equal(t, "planner", records[0].Data["agent"])
	assert.Equal(t, "[REDACTED]", records[0].Data["api_key"])
	assert.False(t, records[0].Timestamp.IsZero())

	assert.Equal(t, EventPipelineEnd, records[1].EventType)
}

// =============================================================================
// BREAKERS
// =============================================================================

func testBreakers(t *testing.T, failMax uint32, reset time.Duration) *Breakers {
	t.Helper()
	resetForTesting()
	t.Cleanup(resetForTesting)
	return NewBreakers(config.BreakerConfig{FailMax: failMax, ResetTimeout: reset}, nil)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := testBreakers(t, 3, time.Minute)

	boom := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		_, err := b.Execute(BreakerDatabase, func() (any, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}

	state, ok := b.State(BreakerDatabase)
	require.True(t, ok)
	assert.Equal(t, gobreaker.StateOpen, state)

	// Open breaker short-circuits to a pipeline error without calling fn.
	called := false
	_, err := b.Execute(BreakerDatabase, func() (any, error) {
		called = true
		return nil, nil
	})
	assert.False(t, called)

	require.Error(t, err)
	pe := types.AsPipelineError("test", err)
	assert.Equal(t, types.ErrServiceUnavailable, pe.Code)
	assert.Equal(t, types.SeverityError, pe.Severity)
}

func TestBreakersAreIndependent(t *testing.T) {
	b := testBreakers(t, 2, time.Minute)

	boom := errors.New("llm down")
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(BreakerLLM, func() (any, error) { return nil, boom })
	}
	llmState, _ := b.State(BreakerLLM)
	assert.Equal(t, gobreaker.StateOpen, llmState)

	out, err := b.Execute(BreakerRetrieval, func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestSoftErrorsDoNotTrip(t *testing.T) {
	b := testBreakers(t, 2, time.Minute)

	rateLimited := Soft(fmt.Errorf("429 rate limited"))
	for i := 0; i < 5; i++ {
		_, err := b.Execute(BreakerLLM, func() (any, error) { return nil, rateLimited })
		// Caller still sees the underlying failure.
		require.Error(t, err)
		assert.True(t, IsSoft(err))
	}

	state, _ := b.State(BreakerLLM)
	assert.Equal(t, gobreaker.StateClosed, state)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := testBreakers(t, 2, time.Minute)

	boom := errors.New("blip")
	_, _ = b.Execute(BreakerDatabase, func() (any, error) { return nil, boom })
	_, err := b.Execute(BreakerDatabase, func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	_, _ = b.Execute(BreakerDatabase, func() (any, error) { return nil, boom })

	state, _ := b.State(BreakerDatabase)
	assert.Equal(t, gobreaker.StateClosed, state)
}

func TestUnknownBreaker(t *testing.T) {
	b := testBreakers(t, 2, time.Minute)
	_, err := b.Execute("bogus", func() (any, error) { return nil, nil })
	assert.Error(t, err)
}

// =============================================================================
// CONTROLLER AND WAITER
// =============================================================================

func TestControllerFirstReasonWins(t *testing.T) {
	c := NewController()
	assert.False(t, c.IsCancelled())
	_, cancelled := c.CheckPoint("test")
	assert.False(t, cancelled)

	c.Cancel("user clicked stop")
	c.Cancel("second reason")
	assert.True(t, c.IsCancelled())
	assert.Equal(t, "user clicked stop", c.Reason())

	pe, cancelled := c.CheckPoint("test")
	require.True(t, cancelled)
	assert.Equal(t, types.ErrCancelled, pe.Code)
	assert.Equal(t, types.SeverityCritical, pe.Severity)
	assert.Contains(t, pe.Message, "user clicked stop")
}

func TestWaiterCompletes(t *testing.T) {
	w := NewWaiter(time.Second, NewController())
	outcome, err := w.Run(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.NoError(t, err)
}

func TestWaiterTimesOut(t *testing.T) {
	w := NewWaiter(50*time.Millisecond, NewController())
	outcome, err := w.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, OutcomeTimeout, outcome)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaiterObservesCancellation(t *testing.T) {
	c := NewController()
	w := NewWaiter(5*time.Second, c)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Cancel("stop")
	}()
	outcome, _ := w.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, OutcomeCancelled, outcome)
}

func TestSubmissionDeadline(t *testing.T) {
	// Without an ambient deadline the statement timeout rules.
	d := SubmissionDeadline(context.Background(), 5000)
	assert.Equal(t, 5*time.Second, d)

	// A tighter ambient deadline wins.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d = SubmissionDeadline(ctx, 5000)
	assert.LessOrEqual(t, d, time.Second)
	assert.Greater(t, d, 500*time.Millisecond)
}
