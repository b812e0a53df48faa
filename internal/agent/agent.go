// Package agent implements the agent runner: a deterministic wrapper
// around an LLM provider call that keys the output cache before
// invocation, parses JSON output against a schema, and on the relationship
// extractor specifically retries through progressive-degradation modes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/briefkg/internal/cache"
	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/limiter"
	"github.com/rcliao/briefkg/internal/llmprovider"
)

// Spec names one agent call for cache-key purposes.
type Spec struct {
	Name          string
	PromptVersion string
	SchemaVersion string
	Model         string
	SystemPrompt  string
}

// Meta is returned alongside a parsed result: timing, cache hit/miss, and
// the finish reason, mirroring cache.AgentMeta.
type Meta struct {
	CacheHit bool
	cache.AgentMeta
}

// Runner wraps provider calls with caching, lane admission, and JSON
// parsing.
type Runner struct {
	provider llmprovider.Provider
	cache    *cache.AgentCache
	limiter  *limiter.Limiter
	provName string
}

// New builds a Runner.
func New(provider llmprovider.Provider, agentCache *cache.AgentCache, lim *limiter.Limiter, providerName string) *Runner {
	return &Runner{provider: provider, cache: agentCache, limiter: lim, provName: providerName}
}

// Invoke runs spec with input marshaled as the user payload, unmarshaling
// the model's JSON response into out. On a cache hit, out is populated
// from the cached value without calling the model.
func (r *Runner) Invoke(ctx context.Context, spec Spec, input any, out any) (Meta, error) {
	key := cache.Key(r.provName, spec.Model, spec.Name, spec.PromptVersion, spec.SchemaVersion, input)

	if meta, err := r.cache.Get(key, out); err == nil {
		return Meta{CacheHit: true, AgentMeta: meta}, nil
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return Meta{}, fmt.Errorf("agent: marshal input: %w", err)
	}

	started := time.Now()
	resp, err := limiter.Run(ctx, r.limiter, "llm", func(ctx context.Context) (llmprovider.Response, error) {
		return r.provider.Generate(ctx, spec.Model, spec.SystemPrompt, string(payload))
	})
	if err != nil {
		return Meta{}, graph.New(graph.KindTransport, "transport_timeout", err)
	}

	if err := json.Unmarshal([]byte(resp.Text), out); err != nil {
		return Meta{}, graph.New(graph.KindSchemaInvalid, "schema_invalid", err)
	}

	meta := cache.AgentMeta{
		DurationMS:   time.Since(started).Milliseconds(),
		StartedAt:    started,
		FinishedAt:   time.Now(),
		FinishReason: resp.FinishReason,
	}
	if err := r.cache.Put(key, out, meta); err != nil {
		return Meta{}, fmt.Errorf("agent: cache put: %w", err)
	}
	return Meta{CacheHit: false, AgentMeta: meta}, nil
}

// DegradeMode is the tagged variant the relationship extractor retries
// through on schema/truncation failure: Normal (full payload), Compact
// (evidence omitted), Minimal (cap at 8 highest-confidence items).
type DegradeMode string

const (
	ModeNormal  DegradeMode = "normal"
	ModeCompact DegradeMode = "compact"
	ModeMinimal DegradeMode = "minimal"
)

// degradeOrder is the fixed retry sequence: normal, then compact, then
// minimal, each using the same cache scope but a distinct mode tag so
// successful degraded output is cached independently of the full-mode key.
var degradeOrder = []DegradeMode{ModeNormal, ModeCompact, ModeMinimal}

// RelationshipInput is the shared input struct across all three modes;
// degradedSpec below maps a mode to a system-prompt addition and a
// schema-version tag. No post-processing of the parsed output happens in
// this package.
type RelationshipInput struct {
	Sections      []graph.Section
	KnownNodeIDs  []string
	MaxEdges      int
	MinimalCap    int
}

func (r *Runner) degradedSpec(base Spec, mode DegradeMode) Spec {
	s := base
	s.SchemaVersion = base.SchemaVersion + ":" + string(mode)
	switch mode {
	case ModeCompact:
		s.SystemPrompt = base.SystemPrompt + "\n\nOmit the evidence field from every edge to shorten the response."
	case ModeMinimal:
		s.SystemPrompt = base.SystemPrompt + "\n\nReturn at most 8 edges: the highest-confidence ones only. Evidence may be empty."
	}
	return s
}

// InvokeRelationshipExtraction runs the relationship extractor, retrying
// through ModeNormal -> ModeCompact -> ModeMinimal on schema_invalid or
// truncated failures. It returns the mode that ultimately succeeded
// alongside the parsed edges.
func (r *Runner) InvokeRelationshipExtraction(ctx context.Context, base Spec, input RelationshipInput, out any) (DegradeMode, Meta, error) {
	var lastErr error
	for _, mode := range degradeOrder {
		spec := r.degradedSpec(base, mode)
		meta, err := r.Invoke(ctx, spec, input, out)
		if err == nil {
			return mode, meta, nil
		}
		var gerr *graph.Error
		if !isDegradable(err, &gerr) {
			return mode, Meta{}, err
		}
		lastErr = err
	}
	return ModeMinimal, Meta{}, graph.New(graph.KindSchemaInvalid, "degradation_exhausted", lastErr).WithStage("relationship_extraction")
}

func isDegradable(err error, gerr **graph.Error) bool {
	if e, ok := err.(*graph.Error); ok {
		*gerr = e
		return e.Kind == graph.KindSchemaInvalid
	}
	return false
}
