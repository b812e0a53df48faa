package pipeline

import (
	"context"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/resolver"
)

// SectionExtractor turns a paper's raw full text into structured sections.
type SectionExtractor interface {
	// ExtractSections splits fullText into at most 12 typed sections of at
	// most 1200 chars each, excluding references and footnotes. A paper
	// with no full text yields a single abstract section.
	ExtractSections(ctx context.Context, paper graph.Paper, fullText string) ([]graph.Section, error)
}

// EntityExtractor pulls typed candidate entities out of a paper's sections.
type EntityExtractor interface {
	// ExtractEntities returns candidate entities: at most 10 per paper, 4
	// per section, 2 Metric, each with confidence >= 0.5 and a char span
	// indexing into its section's content.
	ExtractEntities(ctx context.Context, paper graph.Paper, sections []graph.Section) ([]CandidateEntity, error)
}

// RelationshipExtractor pulls typed candidate edges out of a paper's
// sections given the set of known entity names.
type RelationshipExtractor interface {
	// ExtractRelationships returns at most 12 candidate edges with verbatim
	// evidence quotes of at most 300 chars. Implementations retry with
	// progressively degraded prompts on truncation or schema failure.
	ExtractRelationships(ctx context.Context, paper graph.Paper, sections []graph.Section, knownEntities []string) ([]CandidateRelationship, error)
}

// EntityResolver is the narrow resolver dependency stage 5 needs.
type EntityResolver interface {
	Resolve(ctx context.Context, candidate graph.Node) (resolver.Resolution, graph.Node, error)
}

// CandidateEntity is one extraction hit before validation and resolution.
type CandidateEntity struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Definition    string   `json:"definition"`
	EvidenceQuote string   `json:"evidence_quote"`
	Aliases       []string `json:"aliases"`
	Confidence    float64  `json:"confidence"`
	SectionType   string   `json:"section_type"`
	CharStart     int      `json:"char_start"`
	CharEnd       int      `json:"char_end"`
}

// CandidateRelationship is one extracted edge before validation. Endpoints
// reference entities by name; the orchestrator maps them onto node ids
// after resolution.
type CandidateRelationship struct {
	SourceName  string  `json:"source"`
	TargetName  string  `json:"target"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Evidence    string  `json:"evidence"`
	SectionType string  `json:"section_type"`
	CharStart   int     `json:"char_start"`
	CharEnd     int     `json:"char_end"`
}
