// Package graph defines the persisted knowledge-graph domain types: papers,
// sections, entities, relationships, and the bookkeeping types that the
// resolver and deduper use to manage entity identity over time.
package graph

import "time"

// SectionType is the closed set of section kinds a paper can be split into.
type SectionType string

const (
	SectionAbstract    SectionType = "abstract"
	SectionMethods     SectionType = "methods"
	SectionResults     SectionType = "results"
	SectionRelatedWork SectionType = "related_work"
	SectionConclusion  SectionType = "conclusion"
	SectionOther       SectionType = "other"
)

// Valid reports whether s is one of the closed set of section types.
func (s SectionType) Valid() bool {
	switch s {
	case SectionAbstract, SectionMethods, SectionResults, SectionRelatedWork, SectionConclusion, SectionOther:
		return true
	default:
		return false
	}
}

// NodeType is the closed set of entity kinds extracted from a paper.
type NodeType string

const (
	NodeConcept NodeType = "Concept"
	NodeMethod  NodeType = "Method"
	NodeDataset NodeType = "Dataset"
	NodeMetric  NodeType = "Metric"
	NodePaper   NodeType = "Paper"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeConcept, NodeMethod, NodeDataset, NodeMetric, NodePaper:
		return true
	default:
		return false
	}
}

// ReviewStatus tracks whether an entity or edge is visible on the default
// query surface (approved) or retained only for audit (flagged/rejected).
type ReviewStatus string

const (
	StatusApproved ReviewStatus = "approved"
	StatusFlagged  ReviewStatus = "flagged"
	StatusRejected ReviewStatus = "rejected"
)

// RelationshipType is the closed set of edge kinds between two nodes.
type RelationshipType string

const (
	RelIntroduces  RelationshipType = "introduces"
	RelUses        RelationshipType = "uses"
	RelEvaluates   RelationshipType = "evaluates"
	RelImprovesOn  RelationshipType = "improves_on"
	RelExtends     RelationshipType = "extends"
	RelComparesTo  RelationshipType = "compares_to"
)

func (r RelationshipType) Valid() bool {
	switch r {
	case RelIntroduces, RelUses, RelEvaluates, RelImprovesOn, RelExtends, RelComparesTo:
		return true
	default:
		return false
	}
}

// LinkType is the closed set of entity-link relations the resolver inserts.
type LinkType string

const (
	LinkAliasOf           LinkType = "alias_of"
	LinkSameAsCandidate   LinkType = "same_as_candidate"
)

// LinkStatus tracks an entity link's review lifecycle.
type LinkStatus string

const (
	LinkProposed LinkStatus = "proposed"
	LinkApproved LinkStatus = "approved"
	LinkRejected LinkStatus = "rejected"
)

// InsightType is the closed set of higher-order insights the reasoning
// engine can emit.
type InsightType string

const (
	InsightTransitive      InsightType = "transitive_relationship"
	InsightConceptCluster  InsightType = "concept_cluster"
	InsightAnomaly         InsightType = "anomaly"
)

// Paper is a bibliographic record, created on first mention and mutated
// only by metadata upsert.
type Paper struct {
	ID                 string
	Title              string
	Abstract           string
	Year               int
	ExternalIDs        map[string]string // source name -> external id
	Embedding          []float32         // full-dimension embedding, optional
	EmbeddingReduced   []float32         // reduced-dimension embedding, optional
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Section is an ordered chunk of a paper's full text.
type Section struct {
	ID         string
	PaperID    string
	Type       SectionType
	PartIndex  int
	Content    string // <= 8000 chars
	WordCount  int
}

// Node is an extracted entity: a concept, method, dataset, metric, or paper
// mention, with original and validator-adjusted confidence.
type Node struct {
	ID                  string
	Type                NodeType
	CanonicalName       string
	Metadata            NodeMetadata
	OriginalConfidence  float64
	AdjustedConfidence  float64
	ReviewStatus        ReviewStatus
	Embedding           []float32 // full dimension, e.g. 3072
	EmbeddingReduced    []float32 // reduced dimension, e.g. 768, for fast ANN search
	CreatedAt           time.Time
}

// NodeMetadata carries the free-form definition/evidence/alias fields a
// node accumulates from extraction and resolution.
type NodeMetadata struct {
	Definition   string
	EvidenceQuote string
	Aliases      []string
}

// Provenance records where an edge's evidence was observed.
type Provenance struct {
	PaperID          string
	SectionType      SectionType
	CharStart        int
	CharEnd          int
	CrossPaperPaperID string // optional, set for cross-paper relationships
}

// Edge is a directed, typed, evidence-bearing relationship between two nodes.
type Edge struct {
	ID               string
	SourceNodeID     string
	TargetNodeID     string
	Type             RelationshipType
	Confidence       float64
	Evidence         string // verbatim quote, <= 300 chars
	Provenance       Provenance
	ReviewStatus     ReviewStatus
	CreatedAt        time.Time
}

// EntityMention links a node to a paper it was observed in.
type EntityMention struct {
	NodeID        string
	PaperID       string
	SectionType   SectionType
	MentionCount  int
}

// EntityLink records a directed alias/candidate relationship from a node to
// its chosen canonical node.
type EntityLink struct {
	ID             string
	NodeID         string
	CanonicalID    string
	Type           LinkType
	Status         LinkStatus
	Confidence     float64
	Evidence       string
	CreatedAt      time.Time
}

// EntityAlias is an idempotently-inserted (canonical, alias) pair.
type EntityAlias struct {
	CanonicalID    string
	AliasName      string
	NormalizedForm string
}

// ReasoningStep is one link in an insight's reasoning path.
type ReasoningStep struct {
	Claim        string
	EdgeRefs     []string
	RuleName     string
}

// InferredInsight is a higher-order claim derived purely from the persisted
// graph, never from raw text.
type InferredInsight struct {
	ID            string
	Type          InsightType
	SubjectNodes  []string // sorted
	ReasoningPath ReasoningStep
	Confidence    float64
	CreatedAt     time.Time
}
