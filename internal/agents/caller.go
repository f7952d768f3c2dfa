package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"queryloom/internal/logging"
	"queryloom/internal/observability"
	"queryloom/internal/runtime"
	"queryloom/internal/types"
)

// Caller is the structured-output wrapper shared by every LLM-backed node.
// It routes completions through the LLM breaker, audits every interaction,
// records token usage, and refuses to hand back unparsed content.
type Caller struct {
	client   types.LLMClient
	breakers *runtime.Breakers
	auditor  *runtime.Auditor
}

// NewCaller wires the wrapper. client must be non-nil; nodes surface a
// MISSING_LLM error before reaching this point otherwise.
func NewCaller(client types.LLMClient, breakers *runtime.Breakers, auditor *runtime.Auditor) *Caller {
	return &Caller{client: client, breakers: breakers, auditor: auditor}
}

// Model reports the underlying model tag.
func (c *Caller) Model() string {
	if c.client == nil {
		return ""
	}
	return c.client.Model()
}

// Call completes the prompt and parses the response into out. datasourceID
// may be empty for datasource-agnostic agents. Any failure comes back as a
// PipelineError; raw model text never crosses this boundary.
func (c *Caller) Call(ctx context.Context, agent, system, prompt, datasourceID string, out any) error {
	if c.client == nil {
		return types.NewError(agent, types.ErrMissingLLM, types.SeverityCritical,
			"no language model is configured")
	}

	result, err := c.breakers.Execute(runtime.BreakerLLM, func() (any, error) {
		return c.client.CompleteWithSystem(ctx, system, prompt)
	})
	if err != nil {
		if pe, ok := err.(types.PipelineError); ok {
			return pe
		}
		return types.NewError(agent, types.ErrExecutionFailed, types.SeverityError,
			"language model call failed: %v", err)
	}
	resp, ok := result.(*types.LLMResponse)
	if !ok || resp == nil {
		return types.NewError(agent, types.ErrUnknown, types.SeverityError,
			"language model returned no response")
	}

	observability.Metrics().RecordTokens(agent, resp.Model, datasourceID,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if c.auditor != nil {
		c.auditor.Emit(runtime.EventLLMInteraction,
			observability.TraceID(ctx), observability.TenantID(ctx), map[string]any{
				"agent":             agent,
				"model":             resp.Model,
				"datasource_id":     datasourceID,
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
			})
	}

	if err := parseStructured(resp.Text, out); err != nil {
		logging.Get(logging.CategoryAgents).Warnf("agent %s returned unparseable output: %v", agent, err)
		return types.NewError(agent, types.ErrPlanningFailure, types.SeverityError,
			"agent %s produced an unparseable response", agent)
	}
	return nil
}

// parseStructured extracts the JSON document from a completion. Models often
// wrap JSON in markdown fences or prose; the first balanced JSON object or
// array is used.
func parseStructured(text string, out any) error {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	extracted, ok := extractJSON(trimmed)
	if !ok {
		return fmt.Errorf("no JSON document found in response")
	}
	return json.Unmarshal([]byte(extracted), out)
}

// extractJSON returns the first balanced {...} or [...] span.
func extractJSON(s string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
