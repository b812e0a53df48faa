// Package llmprovider defines the contract AgentRunner uses to invoke a
// generative model, independent of which vendor backs it.
package llmprovider

import "context"

// Response is what a provider call returns: the raw text plus enough
// metadata for the cache meta and the truncation/refusal classification.
type Response struct {
	Text         string
	FinishReason string
	TokensIn     int32
	TokensOut    int32
}

// Provider generates text from a system prompt and a user payload. It must
// request structured JSON output where the model supports it; the caller
// (internal/agent) parses the result.
type Provider interface {
	Generate(ctx context.Context, model, systemPrompt, userPayload string) (Response, error)
}
