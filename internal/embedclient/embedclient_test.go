package embedclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/briefkg/internal/cache"
	"github.com/rcliao/briefkg/internal/limiter"
)

// fakeProvider derives a deterministic vector from text length so tests can
// assert order preservation without real embeddings.
type fakeProvider struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("provider down")
	}
	return []float32{float32(len(text)), float32(text[0])}, nil
}

func (f *fakeProvider) Dimensions() int { return 2 }

func newClient(t *testing.T, prov *fakeProvider) *Client {
	t.Helper()
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	lim := limiter.New(map[string]limiter.LaneConfig{"embed": {MaxConcurrent: 4}})
	return New(prov, cache.NewAgentCache(store), lim, "embed-model", 32)
}

func TestEmbed_EmptyInputNoIO(t *testing.T) {
	prov := &fakeProvider{}
	c := newClient(t, prov)

	vecs, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, prov.calls.Load())
}

func TestEmbed_PreservesOrder(t *testing.T) {
	prov := &fakeProvider{}
	c := newClient(t, prov)

	texts := []string{"alpha", "be", "gamma-long"}
	vecs, err := c.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0], "vecs[%d] must correspond to texts[%d]", i, i)
	}
}

func TestEmbed_DeduplicatesIdenticalTexts(t *testing.T) {
	prov := &fakeProvider{}
	c := newClient(t, prov)

	vecs, err := c.Embed(context.Background(), []string{"same", "same", "same"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int32(1), prov.calls.Load(), "identical texts should share one provider call")
	assert.Equal(t, vecs[0], vecs[1])
	assert.Equal(t, vecs[0], vecs[2])
}

func TestEmbed_SecondCallServedFromCache(t *testing.T) {
	prov := &fakeProvider{}
	c := newClient(t, prov)

	first, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), prov.calls.Load())

	second, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), prov.calls.Load(), "second call must not invoke the provider")
	assert.Equal(t, first, second)
}

func TestEmbed_SingleFailureFailsBatch(t *testing.T) {
	prov := &fakeProvider{fail: true}
	c := newClient(t, prov)

	_, err := c.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}
