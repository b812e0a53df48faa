// Package gemini implements internal/embedprovider.Provider over the
// Gemini SDK, with a caller-supplied output dimension (the model supports
// Matryoshka truncation down from its native width).
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Client wraps a genai.Client for embedding generation.
type Client struct {
	gClient *genai.Client
	dims    int32
}

// New creates a Gemini-backed embedprovider.Provider producing vectors of
// dims dimensions (the model supports Matryoshka truncation down from its
// native 3072).
func New(ctx context.Context, apiKey string, dims int32) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if dims <= 0 {
		dims = 768
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{gClient: gc, dims: dims}, nil
}

// Dimensions reports the configured output dimension.
func (c *Client) Dimensions() int { return int(c.dims) }

// Embed generates a single text's embedding vector.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	dims := c.dims
	cfg := &genai.EmbedContentConfig{OutputDimensionality: &dims}

	resp, err := c.gClient.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini: no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}
