package agent

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/briefkg/internal/cache"
	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/limiter"
	"github.com/rcliao/briefkg/internal/llmprovider"
)

// scriptedProvider returns canned responses keyed by a substring of the
// system prompt, so degradation modes can be told apart.
type scriptedProvider struct {
	calls     atomic.Int32
	responses map[string]string // prompt substring -> response text
	fallback  string
}

func (s *scriptedProvider) Generate(ctx context.Context, model, systemPrompt, userPayload string) (llmprovider.Response, error) {
	s.calls.Add(1)
	for marker, text := range s.responses {
		if strings.Contains(systemPrompt, marker) {
			return llmprovider.Response{Text: text, FinishReason: "stop"}, nil
		}
	}
	return llmprovider.Response{Text: s.fallback, FinishReason: "stop"}, nil
}

func newRunner(t *testing.T, prov llmprovider.Provider) *Runner {
	t.Helper()
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	lim := limiter.New(map[string]limiter.LaneConfig{"llm": {MaxConcurrent: 2}})
	return New(prov, cache.NewAgentCache(store), lim, "gemini")
}

func baseSpec() Spec {
	return Spec{
		Name:          "relationship_extractor",
		PromptVersion: "v1",
		SchemaVersion: "v1",
		Model:         "test-model",
		SystemPrompt:  "Extract relationships.",
	}
}

func TestInvoke_CacheHitSkipsProvider(t *testing.T) {
	prov := &scriptedProvider{fallback: `{"value": 7}`}
	r := newRunner(t, prov)

	var out struct {
		Value int `json:"value"`
	}
	meta, err := r.Invoke(context.Background(), baseSpec(), map[string]any{"q": 1}, &out)
	require.NoError(t, err)
	assert.False(t, meta.CacheHit)
	assert.Equal(t, 7, out.Value)
	assert.Equal(t, int32(1), prov.calls.Load())

	out.Value = 0
	meta, err = r.Invoke(context.Background(), baseSpec(), map[string]any{"q": 1}, &out)
	require.NoError(t, err)
	assert.True(t, meta.CacheHit)
	assert.Equal(t, 7, out.Value)
	assert.Equal(t, int32(1), prov.calls.Load(), "cache hit must not call the provider")
}

func TestInvoke_SchemaInvalidClassified(t *testing.T) {
	prov := &scriptedProvider{fallback: `{"truncated": `}
	r := newRunner(t, prov)

	var out map[string]any
	_, err := r.Invoke(context.Background(), baseSpec(), "input", &out)
	require.Error(t, err)
	var gerr *graph.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, graph.KindSchemaInvalid, gerr.Kind)
}

func TestInvokeRelationshipExtraction_DegradesToMinimal(t *testing.T) {
	// Normal and compact modes return truncated JSON; only minimal parses.
	prov := &scriptedProvider{
		responses: map[string]string{
			"Omit the evidence field": `{"relationships": [{"source":`,
			"at most 8 edges":         `{"relationships": [{"source": "A", "target": "B", "type": "uses", "confidence": 0.9}]}`,
		},
		fallback: `{"relationships": [{"sour`,
	}
	r := newRunner(t, prov)

	var out struct {
		Relationships []map[string]any `json:"relationships"`
	}
	input := RelationshipInput{MaxEdges: 12, MinimalCap: 8}
	mode, _, err := r.InvokeRelationshipExtraction(context.Background(), baseSpec(), input, &out)
	require.NoError(t, err)
	assert.Equal(t, ModeMinimal, mode)
	require.Len(t, out.Relationships, 1)
	assert.Equal(t, int32(3), prov.calls.Load(), "normal, compact, then minimal")
}

func TestInvokeRelationshipExtraction_AllModesExhausted(t *testing.T) {
	prov := &scriptedProvider{fallback: `not json at all`}
	r := newRunner(t, prov)

	var out map[string]any
	_, _, err := r.InvokeRelationshipExtraction(context.Background(), baseSpec(), RelationshipInput{}, &out)
	require.Error(t, err)
	var gerr *graph.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, graph.KindSchemaInvalid, gerr.Kind)
	assert.Equal(t, "degradation_exhausted", gerr.Code)
	assert.Equal(t, int32(3), prov.calls.Load())
}

func TestInvokeRelationshipExtraction_NormalModeSucceedsFirst(t *testing.T) {
	prov := &scriptedProvider{fallback: `{"relationships": []}`}
	r := newRunner(t, prov)

	var out struct {
		Relationships []map[string]any `json:"relationships"`
	}
	mode, _, err := r.InvokeRelationshipExtraction(context.Background(), baseSpec(), RelationshipInput{}, &out)
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, mode)
	assert.Equal(t, int32(1), prov.calls.Load())
}
