package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryloom/internal/runtime"
	"queryloom/internal/sandbox"
	"queryloom/internal/types"
)

func testSubQuery() *types.SubQuery {
	return &types.SubQuery{ID: "sq1", DatasourceID: "sales", Intent: "revenue by region"}
}

func TestResultErrorsSuccess(t *testing.T) {
	p := &Pipeline{}
	res := &sandbox.ExecutionResult{Success: true, Data: &types.ResultFrame{Success: true}}
	assert.Nil(t, p.resultErrors(testSubQuery(), "executor", res))
}

func TestResultErrorsNilResult(t *testing.T) {
	p := &Pipeline{}
	errs := p.resultErrors(testSubQuery(), "executor", nil)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrUnknown, errs[0].Code)
}

func TestResultErrorsCrash(t *testing.T) {
	p := &Pipeline{}
	res := &sandbox.ExecutionResult{
		Success: false,
		Error:   "SANDBOX CRASH: nil map write",
		Metrics: map[string]float64{"is_crash": 1},
	}
	errs := p.resultErrors(testSubQuery(), "executor", res)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrExecutorCrash, errs[0].Code)
	assert.Equal(t, "sq1", errs[0].SubQueryID)
	assert.Equal(t, "sales", errs[0].DatasourceID)
	assert.True(t, errs[0].Retryable)
	// The panic text never reaches the error record.
	assert.NotContains(t, errs[0].Message, "nil map write")
}

func TestResultErrorsBreakerOpen(t *testing.T) {
	p := &Pipeline{}
	res := &sandbox.ExecutionResult{
		Success: false,
		Metrics: map[string]float64{"breaker_open": 1},
	}
	errs := p.resultErrors(testSubQuery(), "executor", res)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrServiceUnavailable, errs[0].Code)
}

func TestResultErrorsFrameError(t *testing.T) {
	p := &Pipeline{}
	res := &sandbox.ExecutionResult{
		Success: false,
		Data: &types.ResultFrame{
			Success: false,
			Error: &types.FrameError{
				ErrorCode:   types.ErrExecutionError,
				SafeMessage: "no such column: regoin",
				Retryable:   true,
			},
		},
	}
	errs := p.resultErrors(testSubQuery(), "executor", res)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrExecutionError, errs[0].Code)
	assert.Equal(t, "no such column: regoin", errs[0].Message)
	assert.True(t, errs[0].Retryable)

	// The adapter can veto the retry.
	res.Data.Error.Retryable = false
	errs = p.resultErrors(testSubQuery(), "executor", res)
	assert.False(t, errs[0].Retryable)
}

func TestResultErrorsPlainFailure(t *testing.T) {
	p := &Pipeline{}
	res := &sandbox.ExecutionResult{Success: false, Error: "submission deadline exceeded"}
	errs := p.resultErrors(testSubQuery(), "executor", res)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrExecutionError, errs[0].Code)
	assert.Contains(t, errs[0].Message, "deadline")
}

func TestBackoffHonorsContext(t *testing.T) {
	p := &Pipeline{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	ok := p.backoff(ctx, runtime.NewController(), 3)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffHonorsController(t *testing.T) {
	p := &Pipeline{}
	controller := runtime.NewController()
	go func() {
		time.Sleep(50 * time.Millisecond)
		controller.Cancel("stop")
	}()
	start := time.Now()
	ok := p.backoff(context.Background(), controller, 3)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestToInt64(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int(7), 7, true},
		{int64(7), 7, true},
		{float64(7.9), 7, true},
		{"7", 0, false},
		{nil, 0, false},
	}
	for _, c := range cases {
		got, ok := toInt64(c.in)
		assert.Equal(t, c.ok, ok)
		assert.Equal(t, c.want, got)
	}
}

func TestWriteStatementDetection(t *testing.T) {
	// The static check matches leading keywords and stacked statements.
	writes := []string{
		"DROP TABLE orders",
		"  delete from orders",
		"SELECT 1; DROP TABLE orders",
		"update orders set total = 0",
	}
	for _, sql := range writes {
		assert.True(t, looksLikeWrite(sql), sql)
	}
	reads := []string{
		"SELECT * FROM orders",
		`SELECT "created_at" FROM audit_log`,
		"select count(*) from updates_log",
	}
	for _, sql := range reads {
		assert.False(t, looksLikeWrite(sql), sql)
	}
}
