// Package embedprovider defines the contract EmbeddingClient uses to turn a
// single text into a fixed-dimension vector, independent of vendor.
package embedprovider

import "context"

// Provider embeds one text at a time; batching and caching live one layer
// up in internal/embedclient.
type Provider interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	// Dimensions reports the fixed output dimension this provider's model
	// produces, so callers can size reduced-dimension buffers without a
	// round trip.
	Dimensions() int
}
