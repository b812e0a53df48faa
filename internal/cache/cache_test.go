package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"alpha": 1, "beta": []string{"x", "y"}, "gamma": map[string]any{"z": true, "a": false}}
	b := map[string]any{"gamma": map[string]any{"a": false, "z": true}, "beta": []string{"x", "y"}, "alpha": 1}

	if StableHash(a) != StableHash(b) {
		t.Error("StableHash should be independent of map key order")
	}
}

func TestStableHash_DistinguishesValues(t *testing.T) {
	if StableHash(map[string]any{"a": 1}) == StableHash(map[string]any{"a": 2}) {
		t.Error("different values must hash differently")
	}
	if StableHash([]string{"x", "y"}) == StableHash([]string{"y", "x"}) {
		t.Error("slice order is significant and must hash differently")
	}
}

func TestKey_ChangesWithAnySegment(t *testing.T) {
	base := Key("gemini", "model-a", "extractor", "v1", "v1", "input")
	variants := []string{
		Key("other", "model-a", "extractor", "v1", "v1", "input"),
		Key("gemini", "model-b", "extractor", "v1", "v1", "input"),
		Key("gemini", "model-a", "other", "v1", "v1", "input"),
		Key("gemini", "model-a", "extractor", "v2", "v1", "input"),
		Key("gemini", "model-a", "extractor", "v1", "v2", "input"),
		Key("gemini", "model-a", "extractor", "v1", "v1", "other"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d should produce a distinct key", i)
		}
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("missing")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Put("k1", []byte(`{"v":1}`)))
	got, err := store.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	hits, misses := store.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put("k", []byte("v")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestAgentCache_RoundTripWithOutputHash(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := NewAgentCache(store)

	type payload struct {
		Items []string `json:"items"`
	}
	in := payload{Items: []string{"a", "b"}}
	require.NoError(t, c.Put("key", in, AgentMeta{FinishReason: "stop"}))

	var out payload
	meta, err := c.Get("key", &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "stop", meta.FinishReason)

	// The stored output hash must match a fresh hash of the marshaled value.
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.OutputHash)
}

func TestAgentCache_MissIsErrMiss(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := NewAgentCache(store)

	var out struct{}
	_, err = c.Get("absent", &out)
	if !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestDerivedCache_HitMissCountersPerType(t *testing.T) {
	d := NewDerivedCache(t.TempDir())

	var out []string
	err := d.Get("sections", "source-text", "v1", "v1", &out)
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, d.Put("sections", "source-text", "v1", "v1", []string{"abstract"}))
	require.NoError(t, d.Get("sections", "source-text", "v1", "v1", &out))
	assert.Equal(t, []string{"abstract"}, out)

	hits, misses := d.Stats("sections")
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	hits, misses = d.Stats("candidates")
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestDerivedCache_KeyDependsOnVersions(t *testing.T) {
	d := NewDerivedCache(t.TempDir())
	require.NoError(t, d.Put("sections", "text", "v1", "v1", "old"))

	var out string
	err := d.Get("sections", "text", "v2", "v1", &out)
	require.ErrorIs(t, err, ErrMiss, "schema version change must invalidate the segment")
	err = d.Get("sections", "text", "v1", "v2", &out)
	require.ErrorIs(t, err, ErrMiss, "prompt version change must invalidate the segment")
}
