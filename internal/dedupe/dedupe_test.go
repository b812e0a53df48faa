package dedupe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence/memory"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"kitten", "sitting", 3},
		{"neural_radiance_field", "neural_radiance_fields", 1},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestFindSimilarPairs_GuardsEarlyDifference(t *testing.T) {
	nodes := []graph.Node{
		{ID: "a", CanonicalName: "3dgs_splatting", Type: graph.NodeMethod},
		{ID: "b", CanonicalName: "4dgs_splatting", Type: graph.NodeMethod},
	}
	if pairs := findSimilarPairs(nodes); len(pairs) != 0 {
		t.Errorf("difference in first 3 chars must not pair: got %v", pairs)
	}

	nodes = []graph.Node{
		{ID: "a", CanonicalName: "neural_radiance_field", Type: graph.NodeConcept},
		{ID: "b", CanonicalName: "neural_radiance_fields", Type: graph.NodeConcept},
	}
	pairs := findSimilarPairs(nodes)
	require.Len(t, pairs, 1)
	assert.Equal(t, [2]string{"a", "b"}, pairs[0])
}

func TestFindSimilarPairs_ShortNamesSkipped(t *testing.T) {
	nodes := []graph.Node{
		{ID: "a", CanonicalName: "nerf", Type: graph.NodeMethod},
		{ID: "b", CanonicalName: "nerv", Type: graph.NodeMethod},
	}
	if pairs := findSimilarPairs(nodes); len(pairs) != 0 {
		t.Errorf("names of length <= 5 must not fuzzy-pair: got %v", pairs)
	}
}

func TestSelectWinner_Ordering(t *testing.T) {
	nodes := []graph.Node{
		{ID: "z", AdjustedConfidence: 0.8, OriginalConfidence: 0.9},
		{ID: "a", AdjustedConfidence: 0.8, OriginalConfidence: 0.9},
		{ID: "m", AdjustedConfidence: 0.7, OriginalConfidence: 0.99},
	}
	if got := selectWinner(nodes); got.ID != "a" {
		t.Errorf("winner = %s, want a (tied confidences, lowest id)", got.ID)
	}

	nodes[2].AdjustedConfidence = 0.95
	if got := selectWinner(nodes); got.ID != "m" {
		t.Errorf("winner = %s, want m (highest adjusted confidence)", got.ID)
	}
}

func seedDuplicateGraph(t *testing.T) (*memory.Store, map[string]string) {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	ids := make(map[string]string)

	insert := func(key string, n graph.Node) {
		id, err := repo.InsertNode(ctx, n)
		require.NoError(t, err)
		ids[key] = id
	}

	insert("winner", graph.Node{Type: graph.NodeConcept, CanonicalName: "neural_radiance_fields", AdjustedConfidence: 0.9, OriginalConfidence: 0.9})
	insert("loser", graph.Node{Type: graph.NodeConcept, CanonicalName: "neural_radiance_fields", AdjustedConfidence: 0.6, OriginalConfidence: 0.7})
	insert("other", graph.Node{Type: graph.NodeMethod, CanonicalName: "gaussian_splatting", AdjustedConfidence: 0.8, OriginalConfidence: 0.8})

	_, err := repo.InsertEdge(ctx, graph.Edge{
		SourceNodeID: ids["other"], TargetNodeID: ids["loser"],
		Type: graph.RelUses, Confidence: 0.8, ReviewStatus: graph.StatusApproved,
		Provenance: graph.Provenance{PaperID: "p1"},
	})
	require.NoError(t, err)
	_, err = repo.InsertEdge(ctx, graph.Edge{
		SourceNodeID: ids["other"], TargetNodeID: ids["winner"],
		Type: graph.RelUses, Confidence: 0.7, ReviewStatus: graph.StatusApproved,
		Provenance: graph.Provenance{PaperID: "p2"},
	})
	require.NoError(t, err)

	require.NoError(t, repo.InsertEntityMentions(ctx, []graph.EntityMention{
		{NodeID: ids["loser"], PaperID: "p1", SectionType: graph.SectionAbstract, MentionCount: 2},
	}))
	return repo, ids
}

func TestRun_DryRunDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	repo, _ := seedDuplicateGraph(t)

	before, err := repo.GetGraphData(ctx)
	require.NoError(t, err)

	result, err := New(repo).Run(ctx, true)
	require.NoError(t, err)
	assert.Len(t, result.MergeMap.Merges, 1)

	after, err := repo.GetGraphData(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(before.Nodes), len(after.Nodes))
	assert.Equal(t, len(before.Edges), len(after.Edges))
}

func TestRun_MergesRewritesAndDeletes(t *testing.T) {
	ctx := context.Background()
	repo, ids := seedDuplicateGraph(t)

	result, err := New(repo).Run(ctx, false)
	require.NoError(t, err)

	require.Len(t, result.MergeMap.Merges, 1)
	m := result.MergeMap.Merges[0]
	assert.Equal(t, ids["loser"], m.LoserID)
	assert.Equal(t, ids["winner"], m.WinnerID)

	data, err := repo.GetGraphData(ctx)
	require.NoError(t, err)
	assert.Len(t, data.Nodes, 2, "loser must be deleted")

	// Both uses-edges now share endpoints, so one is deduplicated away and
	// the higher-confidence one survives.
	require.Len(t, data.Edges, 1)
	assert.Equal(t, ids["winner"], data.Edges[0].TargetNodeID)
	assert.Equal(t, 0.8, data.Edges[0].Confidence)

	count, err := repo.MentionCount(ctx, ids["winner"])
	require.NoError(t, err)
	assert.Equal(t, 2, count, "mentions must move to the winner")
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo, _ := seedDuplicateGraph(t)

	_, err := New(repo).Run(ctx, false)
	require.NoError(t, err)

	before, err := repo.GetGraphData(ctx)
	require.NoError(t, err)

	second, err := New(repo).Run(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, second.MergeMap.Merges, "second run must find nothing to merge")

	after, err := repo.GetGraphData(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(before.Nodes), len(after.Nodes))
	assert.Equal(t, len(before.Edges), len(after.Edges))
}

func TestRun_PaperNodesNeverFuzzyMerge(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	_, err := repo.InsertNode(ctx, graph.Node{Type: graph.NodePaper, CanonicalName: "splatting_paper_v1", AdjustedConfidence: 0.9})
	require.NoError(t, err)
	_, err = repo.InsertNode(ctx, graph.Node{Type: graph.NodePaper, CanonicalName: "splatting_paper_v2", AdjustedConfidence: 0.8})
	require.NoError(t, err)

	result, err := New(repo).Run(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, result.MergeMap.Merges, "paper titles one edit apart must not merge")
}
