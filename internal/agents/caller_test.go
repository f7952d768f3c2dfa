package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryloom/internal/config"
	"queryloom/internal/runtime"
	"queryloom/internal/types"
)

// scriptedClient replays a canned completion.
type scriptedClient struct {
	text string
	err  error
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *scriptedClient) CompleteWithSystem(_ context.Context, _, _ string) (*types.LLMResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &types.LLMResponse{
		Text:  c.text,
		Model: "scripted",
		Usage: types.UsageMetadata{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (c *scriptedClient) Model() string { return "scripted" }

func testCaller(t *testing.T, client types.LLMClient) *Caller {
	t.Helper()
	return NewCaller(client, runtime.NewBreakers(config.BreakerConfig{FailMax: 5, ResetTimeout: time.Minute}, nil), nil)
}

func TestCallParsesBareJSON(t *testing.T) {
	c := testCaller(t, &scriptedClient{text: `{"is_safe": true, "reasoning": "analytical question"}`})

	var out IntentValidationResult
	require.NoError(t, c.Call(context.Background(), AgentIntentValidator, "sys", "prompt", "", &out))
	assert.True(t, out.IsSafe)
	assert.Equal(t, "analytical question", out.Reasoning)
}

func TestCallStripsMarkdownFences(t *testing.T) {
	c := testCaller(t, &scriptedClient{text: "```json\n{\"is_safe\": false, \"violation_category\": \"destructive\", \"reasoning\": \"drop table\"}\n```"})

	var out IntentValidationResult
	require.NoError(t, c.Call(context.Background(), AgentIntentValidator, "sys", "prompt", "", &out))
	assert.False(t, out.IsSafe)
	assert.Equal(t, ViolationDestructive, out.ViolationCategory)
}

func TestCallExtractsJSONFromProse(t *testing.T) {
	c := testCaller(t, &scriptedClient{
		text: `Sure, here is the result: {"feedback": "use the orders table", "corrections": ["qualify {columns}"]} hope that helps`,
	})

	var out RefinerResponse
	require.NoError(t, c.Call(context.Background(), AgentRefiner, "sys", "prompt", "sales", &out))
	assert.Equal(t, "use the orders table", out.Feedback)
	// Braces inside JSON strings do not confuse the extractor.
	assert.Equal(t, []string{"qualify {columns}"}, out.Corrections)
}

func TestCallUnparseableBecomesPlanningFailure(t *testing.T) {
	c := testCaller(t, &scriptedClient{text: "I cannot answer that in JSON."})

	var out IntentValidationResult
	err := c.Call(context.Background(), AgentIntentValidator, "sys", "prompt", "", &out)
	require.Error(t, err)
	pe := types.AsPipelineError("test", err)
	assert.Equal(t, types.ErrPlanningFailure, pe.Code)
	assert.Equal(t, types.SeverityError, pe.Severity)
}

func TestCallNilClientIsCritical(t *testing.T) {
	c := testCaller(t, nil)

	var out IntentValidationResult
	err := c.Call(context.Background(), AgentIntentValidator, "sys", "prompt", "", &out)
	require.Error(t, err)
	pe := types.AsPipelineError("test", err)
	assert.Equal(t, types.ErrMissingLLM, pe.Code)
	assert.Equal(t, types.SeverityCritical, pe.Severity)
}

func TestCallProviderFailure(t *testing.T) {
	c := testCaller(t, &scriptedClient{err: errors.New("upstream 500")})

	var out IntentValidationResult
	err := c.Call(context.Background(), AgentIntentValidator, "sys", "prompt", "", &out)
	require.Error(t, err)
	pe := types.AsPipelineError("test", err)
	assert.Equal(t, types.ErrExecutionFailed, pe.Code)
}

func TestParseStructuredArray(t *testing.T) {
	var out []string
	require.NoError(t, parseStructured(`The tables are: ["orders", "customers"]`, &out))
	assert.Equal(t, []string{"orders", "customers"}, out)
}

func TestExtractJSONBalancesNesting(t *testing.T) {
	got, ok := extractJSON(`prefix {"a": {"b": [1, 2, {"c": "}"}]}} suffix`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": [1, 2, {"c": "}"}]}}`, got)

	_, ok = extractJSON("no json here")
	assert.False(t, ok)

	_, ok = extractJSON(`{"unterminated": `)
	assert.False(t, ok)
}
