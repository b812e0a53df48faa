// Package resolver implements two-tier entity resolution: exact
// canonicalization followed by semantic ANN matching, with an
// auto-approval gate and cycle avoidance over previously approved links.
package resolver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence"
)

// Embedder is the subset of internal/embedclient.Client the Resolver needs,
// kept as a local interface so this package doesn't import the provider
// stack directly.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Thresholds holds the per-type similarity cutoffs for proposing and
// auto-approving links.
type Thresholds struct {
	ProposeDefault float64 // 0.90, Method/Concept
	ProposeStrict  float64 // 0.92, Dataset/Metric
	AutoDefault    float64 // 0.95, Method/Concept
	AutoStrict     float64 // 0.97, Dataset/Metric
	ANNCandidates  int     // 50
	MinAutoNameLen int     // 5 (strictly greater than)
}

// DefaultThresholds returns the production defaults: datasets and metrics
// merge under stricter cutoffs than methods and concepts.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ProposeDefault: 0.90,
		ProposeStrict:  0.92,
		AutoDefault:    0.95,
		AutoStrict:     0.97,
		ANNCandidates:  50,
		MinAutoNameLen: 5,
	}
}

func (t Thresholds) propose(typ graph.NodeType) float64 {
	if typ == graph.NodeDataset || typ == graph.NodeMetric {
		return t.ProposeStrict
	}
	return t.ProposeDefault
}

func (t Thresholds) auto(typ graph.NodeType) float64 {
	if typ == graph.NodeDataset || typ == graph.NodeMetric {
		return t.AutoStrict
	}
	return t.AutoDefault
}

// Resolution is the outcome of resolving one candidate entity: either it
// reuses an existing node (Tier A hit) or it must be inserted as a
// brand-new node; a Tier B match additionally carries a link from that new
// node to the matched canonical.
type Resolution struct {
	NodeID    string
	IsNew     bool
	Link      *graph.EntityLink // non-nil when a Tier B link was created
	TierAHit  bool
}

// Resolver runs both resolution tiers against a repository.
type Resolver struct {
	repo       persistence.Repository
	embedder   Embedder
	embedModel string
	thresholds Thresholds
	canonCache *canonicalCache
}

// New builds a Resolver.
func New(repo persistence.Repository, embedder Embedder, embedModel string, thresholds Thresholds) *Resolver {
	return &Resolver{
		repo:       repo,
		embedder:   embedder,
		embedModel: embedModel,
		thresholds: thresholds,
		canonCache: newCanonicalCache(),
	}
}

// Resolve implements the two-tier resolution for one candidate entity,
// which has no embedding yet. The candidate's ID, if set, is carried
// through unchanged and a Tier B link uses it as its NodeID. On return, the
// caller inserts the returned node (if IsNew) and any link, and attaches
// entity mentions.
func (r *Resolver) Resolve(ctx context.Context, candidate graph.Node) (Resolution, graph.Node, error) {
	canonical := r.canonicalizeCached(candidate.CanonicalName)
	key := persistence.CanonicalKey{Key: canonical, Type: candidate.Type}

	existing, err := r.repo.FindNodesByCanonical(ctx, []persistence.CanonicalKey{key})
	if err != nil {
		return Resolution{}, graph.Node{}, fmt.Errorf("resolver: tier A lookup: %w", err)
	}
	if node, ok := existing[key]; ok {
		return Resolution{NodeID: node.ID, TierAHit: true}, node, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{candidateEmbeddingText(candidate)})
	if err != nil {
		return Resolution{}, graph.Node{}, fmt.Errorf("resolver: embed candidate: %w", err)
	}
	full := vecs[0]
	reduced := Reduce(full)
	candidate.Embedding = full
	candidate.EmbeddingReduced = reduced

	// The node is persisted under its canonical key so later Tier A lookups
	// hit; the raw surface form survives as an alias.
	if candidate.CanonicalName != canonical {
		candidate.Metadata.Aliases = append(candidate.Metadata.Aliases, candidate.CanonicalName)
		candidate.CanonicalName = canonical
	}

	hits, err := r.repo.FindSimilarNodes(ctx, persistence.SimilarNodesQuery{
		QueryIndexVec: reduced,
		Type:          candidate.Type,
		Threshold:     r.thresholds.propose(candidate.Type),
		Limit:         r.thresholds.ANNCandidates,
	})
	if err != nil {
		return Resolution{}, graph.Node{}, fmt.Errorf("resolver: ANN search: %w", err)
	}
	if len(hits) == 0 {
		return Resolution{IsNew: true}, candidate, nil
	}

	reranked := rerankByFullEmbedding(full, hits)

	winner, similarity, err := r.selectCanonical(ctx, candidate, reranked)
	if err != nil {
		return Resolution{}, graph.Node{}, err
	}
	if winner == nil {
		return Resolution{IsNew: true}, candidate, nil
	}

	root, err := r.resolveToRoot(ctx, *winner)
	if err != nil {
		return Resolution{}, graph.Node{}, fmt.Errorf("resolver: cycle avoidance: %w", err)
	}

	status := graph.LinkProposed
	if r.autoApprove(candidate, root, similarity) {
		status = graph.LinkApproved
	}

	link := graph.EntityLink{
		NodeID:      candidate.ID,
		CanonicalID: root.ID,
		Type:        graph.LinkAliasOf,
		Status:      status,
		Confidence:  similarity,
		Evidence:    candidate.Metadata.EvidenceQuote,
	}
	return Resolution{NodeID: candidate.ID, IsNew: true, Link: &link}, candidate, nil
}

// candidateEmbeddingText builds the text embedded for ANN search: name plus
// definition, so near-duplicate phrasing of the same concept lands close in
// vector space.
func candidateEmbeddingText(n graph.Node) string {
	if n.Metadata.Definition == "" {
		return n.CanonicalName
	}
	return n.CanonicalName + ": " + n.Metadata.Definition
}

// rerankByFullEmbedding rescores the ANN hits (ranked by the
// reduced-dimension index) by full-dimension cosine similarity and
// re-sorts them descending.
func rerankByFullEmbedding(full []float32, hits []persistence.SimilarNode) []persistence.SimilarNode {
	out := make([]persistence.SimilarNode, len(hits))
	for i, h := range hits {
		sim := h.Similarity
		if len(h.Node.Embedding) > 0 {
			sim = cosineSimilarity(full, h.Node.Embedding)
		}
		out[i] = persistence.SimilarNode{Node: h.Node, Similarity: sim}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// selectCanonical picks the canonical among the ANN hits: primary key
// descending mention count, secondary ascending created_at, tertiary
// lexicographically smallest canonical name. The candidate itself is not
// in the pool, so a non-empty hit list always yields a hit as winner.
// Returns nil only when hits is empty; hits are not re-checked against the
// propose threshold, which the ANN query already applied.
func (r *Resolver) selectCanonical(ctx context.Context, candidate graph.Node, hits []persistence.SimilarNode) (*graph.Node, float64, error) {
	if len(hits) == 0 {
		return nil, 0, nil
	}
	type scored struct {
		node       graph.Node
		similarity float64
		mentions   int
	}
	pool := make([]scored, 0, len(hits))
	for _, h := range hits {
		count, err := r.repo.MentionCount(ctx, h.Node.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("mention count for %s: %w", h.Node.ID, err)
		}
		pool = append(pool, scored{node: h.Node, similarity: h.Similarity, mentions: count})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].mentions != pool[j].mentions {
			return pool[i].mentions > pool[j].mentions
		}
		if !pool[i].node.CreatedAt.Equal(pool[j].node.CreatedAt) {
			return pool[i].node.CreatedAt.Before(pool[j].node.CreatedAt)
		}
		return pool[i].node.CanonicalName < pool[j].node.CanonicalName
	})
	winner := pool[0].node
	return &winner, pool[0].similarity, nil
}

// resolveToRoot avoids alias chains: if the selected canonical is
// itself alias_of some approved root R, follow the chain to R.
func (r *Resolver) resolveToRoot(ctx context.Context, node graph.Node) (graph.Node, error) {
	seen := map[string]bool{node.ID: true}
	current := node
	for i := 0; i < 32; i++ {
		status := graph.LinkApproved
		links, err := r.repo.GetEntityLinks(ctx, persistence.EntityLinkFilter{NodeID: current.ID, Status: &status})
		if err != nil {
			return graph.Node{}, err
		}
		var next *graph.EntityLink
		for i := range links {
			if links[i].Type == graph.LinkAliasOf {
				next = &links[i]
				break
			}
		}
		if next == nil {
			return current, nil
		}
		if seen[next.CanonicalID] {
			return current, nil // cycle guard, should never persist but don't loop forever
		}
		seen[next.CanonicalID] = true
		root, err := r.repo.GetNode(ctx, next.CanonicalID)
		if err != nil {
			return graph.Node{}, err
		}
		current = root
	}
	return current, nil
}

// autoApprove gates automatic merges: similarity >= tau_auto, name longer
// than 5 chars, AND at least one shared signal.
func (r *Resolver) autoApprove(candidate, root graph.Node, similarity float64) bool {
	if similarity < r.thresholds.auto(candidate.Type) {
		return false
	}
	if len(candidate.CanonicalName) <= r.thresholds.MinAutoNameLen {
		return false
	}
	return sharedAlias(candidate, root) || sharedTrigram(candidate, root) || sharedQuotedDefinition(candidate, root)
}

func sharedAlias(a, b graph.Node) bool {
	set := make(map[string]bool, len(b.Metadata.Aliases))
	for _, alias := range b.Metadata.Aliases {
		set[strings.ToLower(strings.TrimSpace(alias))] = true
	}
	set[strings.ToLower(strings.TrimSpace(b.CanonicalName))] = true
	for _, alias := range a.Metadata.Aliases {
		if set[strings.ToLower(strings.TrimSpace(alias))] {
			return true
		}
	}
	return set[strings.ToLower(strings.TrimSpace(a.CanonicalName))]
}

var stopwordsForTrigram = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "for": true, "and": true,
	"to": true, "in": true, "on": true, "is": true, "are": true, "with": true,
}

func trigrams(definition string) map[string]bool {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(definition)) {
		w = strings.Trim(w, ".,;:()\"'")
		if w == "" || stopwordsForTrigram[w] {
			continue
		}
		words = append(words, w)
	}
	set := make(map[string]bool)
	for i := 0; i+2 < len(words); i++ {
		set[words[i]+" "+words[i+1]+" "+words[i+2]] = true
	}
	return set
}

func sharedTrigram(a, b graph.Node) bool {
	ag := trigrams(a.Metadata.Definition)
	if len(ag) == 0 {
		return false
	}
	bg := trigrams(b.Metadata.Definition)
	for g := range ag {
		if bg[g] {
			return true
		}
	}
	return false
}

func sharedQuotedDefinition(a, b graph.Node) bool {
	if a.Metadata.EvidenceQuote == "" || b.Metadata.Definition == "" {
		return false
	}
	return strings.Contains(b.Metadata.Definition, a.Metadata.EvidenceQuote) ||
		strings.Contains(a.Metadata.Definition, b.Metadata.EvidenceQuote)
}
