// Package persistence defines the Repository contract the core pipeline
// requires from any store. The pipeline, resolver, deduper, and reasoning
// engine all speak to storage exclusively through this interface.
package persistence

import (
	"context"

	"github.com/rcliao/briefkg/internal/graph"
)

// SimilarNodesQuery parameters the ANN search performed by
// FindSimilarNodes.
type SimilarNodesQuery struct {
	QueryIndexVec []float32
	Type          graph.NodeType
	Threshold     float64
	Limit         int
}

// SimilarNode is one ANN search hit.
type SimilarNode struct {
	Node       graph.Node
	Similarity float64
}

// ReviewFilter restricts node/edge reads to a review status; a nil filter
// means "no filter" (used only by audit tooling, never the default query
// surface).
type ReviewFilter struct {
	Status *graph.ReviewStatus
}

// ApprovedOnly is the default query surface filter: flagged and rejected
// rows are retained for audit but excluded from normal reads.
func ApprovedOnly() ReviewFilter {
	s := graph.StatusApproved
	return ReviewFilter{Status: &s}
}

// GraphData is the full node/edge set, used by the batch Deduper.
type GraphData struct {
	Nodes []graph.Node
	Edges []graph.Edge
}

// Subgraph is the induced depth-N neighborhood of a set of seed nodes,
// used by the ReasoningEngine.
type Subgraph struct {
	Nodes []graph.Node
	Edges []graph.Edge
}

// Repository is everything the core pipeline requires from a store.
// Implementations: internal/persistence/postgres (pgx+pgvector, production)
// and internal/persistence/memory (in-process maps, tests).
type Repository interface {
	// Papers
	UpsertPaper(ctx context.Context, p graph.Paper) error
	GetExistingPaperIDs(ctx context.Context, ids []string) (map[string]bool, error)
	GetPaperEmbedding(ctx context.Context, id string) ([]float32, error)
	UpsertPaperEmbedding(ctx context.Context, id string, vec []float32) error

	// Sections
	InsertSections(ctx context.Context, sections []graph.Section) error

	// Nodes
	InsertNode(ctx context.Context, n graph.Node) (string, error)
	FindNodesByCanonical(ctx context.Context, keys []CanonicalKey) (map[CanonicalKey]graph.Node, error)
	FindSimilarNodes(ctx context.Context, q SimilarNodesQuery) ([]SimilarNode, error)
	UpsertNodeEmbeddings(ctx context.Context, id string, raw, index []float32) error
	GetNode(ctx context.Context, id string) (graph.Node, error)
	UpdateNodeConfidenceAndStatus(ctx context.Context, id string, adjusted float64, status graph.ReviewStatus) error
	DeleteNodes(ctx context.Context, ids []string) error

	// Edges
	InsertEdge(ctx context.Context, e graph.Edge) (string, error)
	UpdateEdgeEndpoints(ctx context.Context, id string, newSrc, newTgt *string) error
	GetEdgesForNode(ctx context.Context, nodeID string) ([]graph.Edge, error)
	DeleteEdges(ctx context.Context, ids []string) error

	// Mentions
	InsertEntityMentions(ctx context.Context, mentions []graph.EntityMention) error
	UpdateMentionsNode(ctx context.Context, loser, winner string) error
	MentionCount(ctx context.Context, nodeID string) (int, error)

	// Links & aliases
	InsertEntityLink(ctx context.Context, link graph.EntityLink) (string, error)
	GetEntityLinks(ctx context.Context, filter EntityLinkFilter) ([]graph.EntityLink, error)
	UpdateEntityLinkStatus(ctx context.Context, id string, status graph.LinkStatus) error
	InsertEntityAlias(ctx context.Context, canonical string, aliasName, normalized string) error
	GetAliases(ctx context.Context, canonical string) ([]graph.EntityAlias, error)

	// Insights
	InsertInsights(ctx context.Context, insights []graph.InferredInsight) error

	// Bulk graph access
	GetGraphData(ctx context.Context) (GraphData, error)
	GetSubgraph(ctx context.Context, seedNodeIDs []string, depth int) (Subgraph, error)
}

// CanonicalKey is the exact-resolution lookup key: a normalized name
// scoped to a node type.
type CanonicalKey struct {
	Key  string
	Type graph.NodeType
}

// EntityLinkFilter restricts GetEntityLinks reads.
type EntityLinkFilter struct {
	NodeID      string
	CanonicalID string
	Status      *graph.LinkStatus
}
