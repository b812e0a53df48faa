// Package embedclient implements the batched, cached embedding client:
// Embed(texts) -> vectors preserving order, deduplicating identical texts,
// reading the content-addressed cache per unique text, and batching cache
// misses through the embed lane.
package embedclient

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/rcliao/briefkg/internal/cache"
	"github.com/rcliao/briefkg/internal/embedprovider"
	"github.com/rcliao/briefkg/internal/limiter"
)

const cacheSchemaVersion = "v1"

// Client is the cached, batching embedding client.
type Client struct {
	provider  embedprovider.Provider
	cache     *cache.AgentCache
	limiter   *limiter.Limiter
	model     string
	batchSize int
	lane      string
	sf        singleflight.Group
}

// New builds an embedclient.Client. batchSize defaults to 32 (EMBED_BATCH_SIZE).
func New(provider embedprovider.Provider, agentCache *cache.AgentCache, lim *limiter.Limiter, model string, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Client{
		provider:  provider,
		cache:     agentCache,
		limiter:   lim,
		model:     model,
		batchSize: batchSize,
		lane:      "embed",
	}
}

// Embed returns one vector per input text, in the same order, deduplicating
// identical texts and sharing cached vectors across callers. Empty input
// returns empty output without any I/O. A failure embedding any single
// cache-miss text fails the whole call; retries belong to the caller via
// internal/retry.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	firstIndex := make(map[string]int, len(texts))
	var misses []string

	for i, t := range texts {
		if _, seen := firstIndex[t]; seen {
			continue
		}
		firstIndex[t] = i

		key := c.key(t)
		var vec []float32
		if _, err := c.cache.Get(key, &vec); err == nil {
			out[i] = vec
			continue
		}
		misses = append(misses, t)
	}

	for start := 0; start < len(misses); start += c.batchSize {
		end := start + c.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		if err := c.embedBatch(ctx, misses[start:end], out, firstIndex); err != nil {
			return nil, err
		}
	}

	// Fill in duplicates from their first occurrence.
	for i, t := range texts {
		if out[i] == nil {
			out[i] = out[firstIndex[t]]
		}
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string, out [][]float32, firstIndex map[string]int) error {
	for _, text := range batch {
		idx := firstIndex[text]
		vec, err := limiter.Run(ctx, c.limiter, c.lane, func(ctx context.Context) ([]float32, error) {
			v, err, _ := c.sf.Do(c.key(text), func() (any, error) {
				return c.provider.Embed(ctx, c.model, text)
			})
			if err != nil {
				return nil, err
			}
			return v.([]float32), nil
		})
		if err != nil {
			return fmt.Errorf("embedclient: embed text %d of batch: %w", idx, err)
		}
		out[idx] = vec

		key := c.key(text)
		_ = c.cache.Put(key, vec, cache.AgentMeta{})
	}
	return nil
}

func (c *Client) key(text string) string {
	return cache.Key("gemini", c.model, "embed", "v1", cacheSchemaVersion, text)
}
