package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient implements Client over the Google GenAI API with JSON response
// mode enabled.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete sends one prompt pair and returns the completion text plus usage.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
	if err != nil {
		return "", Usage{}, fmt.Errorf("gemini generate: %w", err)
	}

	u := Usage{Model: c.model}
	if result.UsageMetadata != nil {
		u.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", u, fmt.Errorf("gemini returned no completion")
	}
	return text, u, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }
