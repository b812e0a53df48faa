package resolver

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence/memory"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Neural Radiance Fields", "neural_radiance_fields"},
		{"  Neural   Radiance Fields  ", "neural_radiance_fields"},
		{"Structured State Space (S4)", "s4"},
		{"improves-on", "improves_on"},
		{"KITTI!", "kitti"},
		{"3D Gaussian Splatting", "3d_gaussian_splatting"},
	}
	for _, c := range cases {
		if got := Canonicalize(c.in); got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	for _, s := range []string{"Neural Radiance Fields", "S4 (SSM)", "a - b (c)", "PSNR"} {
		once := Canonicalize(s)
		if twice := Canonicalize(once); twice != once {
			t.Errorf("canonicalize not idempotent: %q -> %q -> %q", s, once, twice)
		}
	}
}

func TestReduce_TruncatesAndRenormalizes(t *testing.T) {
	full := make([]float32, ReducedDim+100)
	for i := range full {
		full[i] = 1
	}
	out := Reduce(full)
	require.Len(t, out, ReducedDim)

	var sumSq float64
	for _, v := range out {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5, "reduced vector must be unit length")
}

func TestReduce_ShortInputKept(t *testing.T) {
	out := Reduce([]float32{3, 4})
	require.Len(t, out, 2)
	assert.InDelta(t, 0.6, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(out[1]), 1e-6)
}

func node(name string, typ graph.NodeType, def string, aliases ...string) graph.Node {
	return graph.Node{
		Type:          typ,
		CanonicalName: name,
		Metadata:      graph.NodeMetadata{Definition: def, Aliases: aliases},
	}
}

func TestAutoApprove_ShortNameBansAcronymMerge(t *testing.T) {
	r := New(nil, nil, "m", DefaultThresholds())
	sam := node("SAM", graph.NodeMethod, "segment anything model for images")
	slam := node("SLAM", graph.NodeMethod, "simultaneous localization and mapping")

	if r.autoApprove(sam, slam, 0.96) {
		t.Error("names of length <= 5 must never auto-approve")
	}
}

func TestAutoApprove_SharedTrigramApproves(t *testing.T) {
	r := New(nil, nil, "m", DefaultThresholds())
	a := node("neural radiance field", graph.NodeConcept, "a neural radiance field represents a scene volumetrically")
	b := node("neural radiance fields", graph.NodeConcept, "the neural radiance field represents geometry and appearance")

	if !r.autoApprove(a, b, 0.98) {
		t.Error("long names with a shared definition 3-gram must auto-approve at 0.98")
	}
}

func TestAutoApprove_NoSharedSignalStaysProposed(t *testing.T) {
	r := New(nil, nil, "m", DefaultThresholds())
	a := node("gaussian splatting", graph.NodeConcept, "renders scenes from ellipsoids")
	b := node("surface splatting", graph.NodeConcept, "classic point-based rendering technique")

	if r.autoApprove(a, b, 0.98) {
		t.Error("without a shared alias/trigram/quote the link must stay proposed")
	}
}

func TestAutoApprove_BelowThresholdRejected(t *testing.T) {
	r := New(nil, nil, "m", DefaultThresholds())
	a := node("neural radiance field", graph.NodeConcept, "volumetric scene representation model")
	b := node("neural radiance fields", graph.NodeConcept, "volumetric scene representation model")

	if r.autoApprove(a, b, 0.94) {
		t.Error("similarity below tau_auto must not auto-approve")
	}
}

func TestAutoApprove_StricterThresholdForDatasets(t *testing.T) {
	r := New(nil, nil, "m", DefaultThresholds())
	a := node("nuScenes dataset", graph.NodeDataset, "large-scale autonomous driving dataset with lidar")
	a.Metadata.Aliases = []string{"nuscenes"}
	b := node("nuScenes benchmark", graph.NodeDataset, "autonomous driving dataset with lidar and cameras")
	b.Metadata.Aliases = []string{"nuscenes"}

	if r.autoApprove(a, b, 0.96) {
		t.Error("datasets require 0.97, so 0.96 must not approve")
	}
	if !r.autoApprove(a, b, 0.975) {
		t.Error("datasets at 0.975 with a shared alias must approve")
	}
}

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), f.vec...)
	}
	return out, nil
}

func TestResolve_TierAHitReusesNode(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	existing := graph.Node{Type: graph.NodeConcept, CanonicalName: "neural_radiance_fields"}
	id, err := repo.InsertNode(ctx, existing)
	require.NoError(t, err)

	r := New(repo, &fixedEmbedder{vec: []float32{1, 0, 0}}, "m", DefaultThresholds())
	res, _, err := r.Resolve(ctx, graph.Node{Type: graph.NodeConcept, CanonicalName: "Neural Radiance Fields"})
	require.NoError(t, err)
	assert.True(t, res.TierAHit)
	assert.False(t, res.IsNew)
	assert.Equal(t, id, res.NodeID)
}

func TestResolve_NoCandidatesInsertsNewNode(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	r := New(repo, &fixedEmbedder{vec: []float32{1, 0, 0}}, "m", DefaultThresholds())

	res, candidate, err := r.Resolve(ctx, graph.Node{Type: graph.NodeMethod, CanonicalName: "gaussian splatting"})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Nil(t, res.Link)
	assert.NotEmpty(t, candidate.Embedding, "Tier B must attach the embedding pair")
	assert.NotEmpty(t, candidate.EmbeddingReduced)
}

func TestResolve_SimilarNodeGetsLink(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	canonical := graph.Node{
		Type:             graph.NodeConcept,
		CanonicalName:    "neural_radiance_fields",
		Embedding:        []float32{1, 0, 0},
		EmbeddingReduced: []float32{1, 0, 0},
		Metadata:         graph.NodeMetadata{Definition: "a neural radiance field represents scenes"},
	}
	id, err := repo.InsertNode(ctx, canonical)
	require.NoError(t, err)
	require.NoError(t, repo.InsertEntityMentions(ctx, []graph.EntityMention{{NodeID: id, PaperID: "p1", SectionType: graph.SectionAbstract, MentionCount: 3}}))

	r := New(repo, &fixedEmbedder{vec: []float32{1, 0, 0}}, "m", DefaultThresholds())
	cand := graph.Node{
		ID:            "cand-1",
		Type:          graph.NodeConcept,
		CanonicalName: "neural radiance field",
		Metadata:      graph.NodeMetadata{Definition: "a neural radiance field represents geometry"},
	}
	res, _, err := r.Resolve(ctx, cand)
	require.NoError(t, err)
	assert.True(t, res.IsNew, "the entity keeps its own node id")
	require.NotNil(t, res.Link)
	assert.Equal(t, id, res.Link.CanonicalID)
	assert.Equal(t, graph.LinkAliasOf, res.Link.Type)
	assert.Equal(t, graph.LinkApproved, res.Link.Status, "identical vectors + shared trigram must auto-approve")
}

func TestResolve_CycleAvoidanceFollowsRoot(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	rootNode := graph.Node{Type: graph.NodeConcept, CanonicalName: "root_concept", Embedding: []float32{1, 0, 0}}
	rootID, err := repo.InsertNode(ctx, rootNode)
	require.NoError(t, err)

	mid := graph.Node{
		Type:             graph.NodeConcept,
		CanonicalName:    "mid_concept_name",
		Embedding:        []float32{1, 0, 0},
		EmbeddingReduced: []float32{1, 0, 0},
	}
	midID, err := repo.InsertNode(ctx, mid)
	require.NoError(t, err)

	_, err = repo.InsertEntityLink(ctx, graph.EntityLink{
		NodeID: midID, CanonicalID: rootID, Type: graph.LinkAliasOf, Status: graph.LinkApproved,
	})
	require.NoError(t, err)

	r := New(repo, &fixedEmbedder{vec: []float32{1, 0, 0}}, "m", DefaultThresholds())
	res, _, err := r.Resolve(ctx, graph.Node{ID: "cand-2", Type: graph.NodeConcept, CanonicalName: "another concept name"})
	require.NoError(t, err)
	require.NotNil(t, res.Link)
	assert.Equal(t, rootID, res.Link.CanonicalID, "link must point at the chain's root, not the matched node")
}
