// Package memory implements internal/persistence.Repository as in-process
// maps guarded by a single mutex. It exists so unit tests can exercise the
// resolver, deduper, validator, and pipeline without a live Postgres.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence"
)

// Store is the in-memory Repository implementation.
type Store struct {
	mu sync.Mutex

	papers          map[string]graph.Paper
	paperEmbeddings map[string][]float32
	sections        []graph.Section
	nodes           map[string]graph.Node
	edges           map[string]graph.Edge
	mentions        []graph.EntityMention
	links           map[string]graph.EntityLink
	aliases         map[string][]graph.EntityAlias
	insights        []graph.InferredInsight
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		papers:          make(map[string]graph.Paper),
		paperEmbeddings: make(map[string][]float32),
		nodes:           make(map[string]graph.Node),
		edges:           make(map[string]graph.Edge),
		links:           make(map[string]graph.EntityLink),
		aliases:         make(map[string][]graph.EntityAlias),
	}
}

func (s *Store) UpsertPaper(ctx context.Context, p graph.Paper) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.papers[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	s.papers[p.ID] = p
	return nil
}

func (s *Store) GetExistingPaperIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.papers[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *Store) GetPaperEmbedding(ctx context.Context, id string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vec, ok := s.paperEmbeddings[id]
	if !ok {
		return nil, nil
	}
	return vec, nil
}

func (s *Store) UpsertPaperEmbedding(ctx context.Context, id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paperEmbeddings[id] = vec
	return nil
}

func (s *Store) InsertSections(ctx context.Context, sections []graph.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range sections {
		if sections[i].ID == "" {
			sections[i].ID = uuid.NewString()
		}
	}
	s.sections = append(s.sections, sections...)
	return nil
}

func (s *Store) InsertNode(ctx context.Context, n graph.Node) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.nodes[n.ID] = n
	return n.ID, nil
}

func (s *Store) FindNodesByCanonical(ctx context.Context, keys []persistence.CanonicalKey) (map[persistence.CanonicalKey]graph.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[persistence.CanonicalKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make(map[persistence.CanonicalKey]graph.Node)
	for _, n := range s.nodes {
		k := persistence.CanonicalKey{Key: n.CanonicalName, Type: n.Type}
		if want[k] {
			out[k] = n
		}
	}
	return out, nil
}

func (s *Store) FindSimilarNodes(ctx context.Context, q persistence.SimilarNodesQuery) ([]persistence.SimilarNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.SimilarNode
	for _, n := range s.nodes {
		if n.Type != q.Type || len(n.EmbeddingReduced) == 0 {
			continue
		}
		sim := cosine(n.EmbeddingReduced, q.QueryIndexVec)
		if sim >= q.Threshold {
			out = append(out, persistence.SimilarNode{Node: n, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *Store) UpsertNodeEmbeddings(ctx context.Context, id string, raw, index []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("memory: node %s not found", id)
	}
	n.Embedding = raw
	n.EmbeddingReduced = index
	s.nodes[id] = n
	return nil
}

func (s *Store) GetNode(ctx context.Context, id string) (graph.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return graph.Node{}, fmt.Errorf("memory: node %s not found", id)
	}
	return n, nil
}

func (s *Store) UpdateNodeConfidenceAndStatus(ctx context.Context, id string, adjusted float64, status graph.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("memory: node %s not found", id)
	}
	n.AdjustedConfidence = adjusted
	n.ReviewStatus = status
	s.nodes[id] = n
	return nil
}

func (s *Store) DeleteNodes(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.nodes, id)
	}
	return nil
}

func (s *Store) InsertEdge(ctx context.Context, e graph.Edge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.edges[e.ID] = e
	return e.ID, nil
}

func (s *Store) UpdateEdgeEndpoints(ctx context.Context, id string, newSrc, newTgt *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("memory: edge %s not found", id)
	}
	if newSrc != nil {
		e.SourceNodeID = *newSrc
	}
	if newTgt != nil {
		e.TargetNodeID = *newTgt
	}
	s.edges[id] = e
	return nil
}

func (s *Store) GetEdgesForNode(ctx context.Context, nodeID string) ([]graph.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []graph.Edge
	for _, e := range s.edges {
		if e.SourceNodeID == nodeID || e.TargetNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) DeleteEdges(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.edges, id)
	}
	return nil
}

func (s *Store) InsertEntityMentions(ctx context.Context, mentions []graph.EntityMention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions = append(s.mentions, mentions...)
	return nil
}

func (s *Store) UpdateMentionsNode(ctx context.Context, loser, winner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.mentions {
		if m.NodeID == loser {
			s.mentions[i].NodeID = winner
		}
	}
	return nil
}

func (s *Store) MentionCount(ctx context.Context, nodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, m := range s.mentions {
		if m.NodeID == nodeID {
			total += m.MentionCount
		}
	}
	return total, nil
}

func (s *Store) InsertEntityLink(ctx context.Context, link graph.EntityLink) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	s.links[link.ID] = link
	return link.ID, nil
}

func (s *Store) GetEntityLinks(ctx context.Context, filter persistence.EntityLinkFilter) ([]graph.EntityLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []graph.EntityLink
	for _, l := range s.links {
		if filter.NodeID != "" && l.NodeID != filter.NodeID {
			continue
		}
		if filter.CanonicalID != "" && l.CanonicalID != filter.CanonicalID {
			continue
		}
		if filter.Status != nil && l.Status != *filter.Status {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) UpdateEntityLinkStatus(ctx context.Context, id string, status graph.LinkStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return fmt.Errorf("memory: link %s not found", id)
	}
	l.Status = status
	s.links[id] = l
	return nil
}

func (s *Store) InsertEntityAlias(ctx context.Context, canonical string, aliasName, normalized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.aliases[canonical] {
		if a.NormalizedForm == normalized {
			return nil // idempotent
		}
	}
	s.aliases[canonical] = append(s.aliases[canonical], graph.EntityAlias{
		CanonicalID: canonical, AliasName: aliasName, NormalizedForm: normalized,
	})
	return nil
}

func (s *Store) GetAliases(ctx context.Context, canonical string) ([]graph.EntityAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]graph.EntityAlias(nil), s.aliases[canonical]...), nil
}

func (s *Store) InsertInsights(ctx context.Context, insights []graph.InferredInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, insights...)
	return nil
}

func (s *Store) GetGraphData(ctx context.Context) (persistence.GraphData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := persistence.GraphData{
		Nodes: make([]graph.Node, 0, len(s.nodes)),
		Edges: make([]graph.Edge, 0, len(s.edges)),
	}
	for _, n := range s.nodes {
		data.Nodes = append(data.Nodes, n)
	}
	for _, e := range s.edges {
		data.Edges = append(data.Edges, e)
	}
	return data, nil
}

func (s *Store) GetSubgraph(ctx context.Context, seedNodeIDs []string, depth int) (persistence.Subgraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frontier := make(map[string]bool, len(seedNodeIDs))
	for _, id := range seedNodeIDs {
		frontier[id] = true
	}
	included := make(map[string]bool)
	for k := range frontier {
		included[k] = true
	}

	for i := 0; i < depth; i++ {
		next := make(map[string]bool)
		for _, e := range s.edges {
			if frontier[e.SourceNodeID] && !included[e.TargetNodeID] {
				next[e.TargetNodeID] = true
			}
			if frontier[e.TargetNodeID] && !included[e.SourceNodeID] {
				next[e.SourceNodeID] = true
			}
		}
		for k := range next {
			included[k] = true
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	var sub persistence.Subgraph
	for id := range included {
		if n, ok := s.nodes[id]; ok {
			sub.Nodes = append(sub.Nodes, n)
		}
	}
	for _, e := range s.edges {
		if included[e.SourceNodeID] && included[e.TargetNodeID] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub, nil
}

var _ persistence.Repository = (*Store)(nil)
