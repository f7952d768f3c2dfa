package types

import "context"

// LLMClient is the provider contract consumed by every LLM-backed node.
// The concrete provider lives outside the core; agents never see raw
// provider responses, only the text and usage surfaced here.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (*LLMResponse, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*LLMResponse, error)
	// Model returns the model tag used for token accounting.
	Model() string
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is a provider-agnostic completion result.
type LLMResponse struct {
	Text  string        `json:"text"`
	Model string        `json:"model"`
	Usage UsageMetadata `json:"usage"`
}
