package agents

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"queryloom/internal/types"
)

// GenAIClient is the Gemini-backed LLMClient.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient builds a client for the given model (default
// "gemini-2.0-flash").
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIClient{client: client, model: model}, nil
}

func (c *GenAIClient) Model() string { return c.model }

// Complete implements types.LLMClient.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	return c.generate(ctx, nil, prompt)
}

// CompleteWithSystem implements types.LLMClient.
func (c *GenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*types.LLMResponse, error) {
	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}
	return c.generate(ctx, cfg, userPrompt)
}

func (c *GenAIClient) generate(ctx context.Context, cfg *genai.GenerateContentConfig, prompt string) (*types.LLMResponse, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI completion failed: %w", err)
	}

	resp := &types.LLMResponse{
		Text:  result.Text(),
		Model: c.model,
	}
	if result.UsageMetadata != nil {
		resp.Usage = types.UsageMetadata{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}
