package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// AgentMeta carries the bookkeeping recorded alongside every L1 cache
// entry: timing, the finish reason the provider returned, and a hash of
// the output for the cache-round-trip invariant.
type AgentMeta struct {
	DurationMS   int64     `json:"duration_ms"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	OutputHash   string    `json:"output_hash"`
	FinishReason string    `json:"finish_reason"`
}

// agentEntry is the full L1 value: the agent's parsed output plus its meta.
type agentEntry struct {
	Output json.RawMessage `json:"output"`
	Meta   AgentMeta       `json:"meta"`
}

// AgentCache is the L1 cache of agent call outputs, keyed per
// (provider, model, agent, prompt_version, schema_version, input).
type AgentCache struct {
	store Store
}

// NewAgentCache wraps store as an AgentCache.
func NewAgentCache(store Store) *AgentCache {
	return &AgentCache{store: store}
}

// Get looks up key and unmarshals the stored output into out. It reports
// ErrMiss when absent.
func (c *AgentCache) Get(key string, out any) (AgentMeta, error) {
	var entry agentEntry
	if err := GetJSON(c.store, key, &entry); err != nil {
		return AgentMeta{}, err
	}
	if len(entry.Output) > 0 {
		if err := json.Unmarshal(entry.Output, out); err != nil {
			return AgentMeta{}, err
		}
	}
	return entry.Meta, nil
}

// Put stores output and meta under key, filling in Meta.OutputHash from
// the marshaled output so cache round-trips can be verified.
func (c *AgentCache) Put(key string, output any, meta AgentMeta) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	meta.OutputHash = hex.EncodeToString(sum[:])
	entry := agentEntry{Output: raw, Meta: meta}
	return PutJSON(c.store, key, entry)
}
