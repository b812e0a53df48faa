// Package gemini implements internal/llmprovider.Provider over the Gemini
// SDK.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/rcliao/briefkg/internal/llmprovider"
)

// Client wraps a genai.Client for text generation.
type Client struct {
	gClient *genai.Client
}

// New creates a Gemini-backed llmprovider.Provider.
func New(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{gClient: gc}, nil
}

// Generate sends systemPrompt + userPayload as a single user turn and
// returns the model's text response. The two are concatenated into one
// prompt string since the SDK surface used here has no dedicated
// system-instruction field in this call path.
func (c *Client) Generate(ctx context.Context, model, systemPrompt, userPayload string) (llmprovider.Response, error) {
	prompt := systemPrompt + "\n\n" + userPayload
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return llmprovider.Response{}, fmt.Errorf("gemini: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return llmprovider.Response{}, fmt.Errorf("gemini: empty response from model")
	}

	out := llmprovider.Response{Text: text, FinishReason: "stop"}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = resp.UsageMetadata.PromptTokenCount
		out.TokensOut = resp.UsageMetadata.CandidatesTokenCount
	}
	return out, nil
}
