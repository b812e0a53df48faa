package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/rcliao/briefkg/internal/agent"
	"github.com/rcliao/briefkg/internal/cache"
	"github.com/rcliao/briefkg/internal/graph"
)

// Caps are the per-stage extraction limits.
type Caps struct {
	MaxSections        int // 12
	MaxSectionChars    int // 1200
	MaxEntities        int // 10 per paper
	MaxEntitiesPerSect int // 4
	MaxMetrics         int // 2
	MaxEdges           int // 12
	MinimalModeCap     int // 8
}

// DefaultCaps returns the stage limits the agents enforce post-parse.
func DefaultCaps() Caps {
	return Caps{
		MaxSections:        12,
		MaxSectionChars:    1200,
		MaxEntities:        10,
		MaxEntitiesPerSect: 4,
		MaxMetrics:         2,
		MaxEdges:           12,
		MinimalModeCap:     8,
	}
}

const sectionPrompt = `You split an academic paper's full text into structured sections.
Return JSON: {"sections": [{"section_type": "...", "content": "..."}]}.
section_type must be one of: abstract, methods, results, related_work, conclusion, other.
Exclude references, bibliographies, and footnotes. At most 12 sections, each at most 1200 characters.`

const entityPrompt = `You extract typed entities from academic paper sections.
Return JSON: {"entities": [{"name": "...", "type": "...", "definition": "...", "evidence_quote": "...", "aliases": [], "confidence": 0.0, "section_type": "...", "char_start": 0, "char_end": 0}]}.
type must be one of: Concept, Method, Dataset, Metric, Paper.
At most 10 entities total, at most 4 per section, at most 2 of type Metric.
Only include entities with confidence at least 0.5. char_start/char_end must index into the section content. evidence_quote must be verbatim from the section.`

const relationshipPrompt = `You extract typed relationships between known entities from academic paper sections.
Return JSON: {"relationships": [{"source": "...", "target": "...", "type": "...", "confidence": 0.0, "evidence": "...", "section_type": "...", "char_start": 0, "char_end": 0}]}.
type must be one of: introduces, uses, evaluates, improves_on, extends, compares_to.
source and target must be names from the known entity list. No self-relationships.
At most 12 relationships. evidence must be a verbatim quote of at most 300 characters.`

// Agents implements the three extraction interfaces over one agent.Runner
// plus the L2 derived cache, so a paper whose upstream artifacts are
// unchanged never re-invokes the model.
type Agents struct {
	runner        *agent.Runner
	derived       *cache.DerivedCache
	model         string
	promptVersion string
	schemaVersion string
	caps          Caps
}

// NewAgents builds the extraction agents. derived may be nil to disable the
// L2 layer (the L1 agent cache inside runner still applies).
func NewAgents(runner *agent.Runner, derived *cache.DerivedCache, model, promptVersion, schemaVersion string, caps Caps) *Agents {
	return &Agents{
		runner:        runner,
		derived:       derived,
		model:         model,
		promptVersion: promptVersion,
		schemaVersion: schemaVersion,
		caps:          caps,
	}
}

func (a *Agents) spec(name, systemPrompt string) agent.Spec {
	return agent.Spec{
		Name:          name,
		PromptVersion: a.promptVersion,
		SchemaVersion: a.schemaVersion,
		Model:         a.model,
		SystemPrompt:  systemPrompt,
	}
}

type sectionResponse struct {
	Sections []struct {
		SectionType string `json:"section_type"`
		Content     string `json:"content"`
	} `json:"sections"`
}

// ExtractSections implements SectionExtractor. Papers without full text
// take the metadata-only path: a single abstract section built from the
// stored abstract, no model call.
func (a *Agents) ExtractSections(ctx context.Context, paper graph.Paper, fullText string) ([]graph.Section, error) {
	if strings.TrimSpace(fullText) == "" {
		if strings.TrimSpace(paper.Abstract) == "" {
			return nil, nil
		}
		return []graph.Section{sectionFor(paper.ID, graph.SectionAbstract, 0, clip(paper.Abstract, a.caps.MaxSectionChars))}, nil
	}

	var sections []graph.Section
	if a.derived != nil {
		if err := a.derived.Get("sections", fullText, a.schemaVersion, a.promptVersion, &sections); err == nil {
			return sections, nil
		}
	}

	var resp sectionResponse
	input := map[string]any{"paper_id": paper.ID, "title": paper.Title, "full_text": fullText}
	if _, err := a.runner.Invoke(ctx, a.spec("section_extractor", sectionPrompt), input, &resp); err != nil {
		return nil, err
	}

	sections = make([]graph.Section, 0, len(resp.Sections))
	partByType := make(map[graph.SectionType]int)
	for _, s := range resp.Sections {
		if len(sections) >= a.caps.MaxSections {
			break
		}
		typ := graph.SectionType(s.SectionType)
		if !typ.Valid() {
			typ = graph.SectionOther
		}
		content := clip(s.Content, a.caps.MaxSectionChars)
		if strings.TrimSpace(content) == "" {
			continue
		}
		sections = append(sections, sectionFor(paper.ID, typ, partByType[typ], content))
		partByType[typ]++
	}

	if a.derived != nil {
		_ = a.derived.Put("sections", fullText, a.schemaVersion, a.promptVersion, sections)
	}
	return sections, nil
}

func sectionFor(paperID string, typ graph.SectionType, part int, content string) graph.Section {
	return graph.Section{
		PaperID:   paperID,
		Type:      typ,
		PartIndex: part,
		Content:   content,
		WordCount: len(strings.Fields(content)),
	}
}

func clip(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

type entityResponse struct {
	Entities []CandidateEntity `json:"entities"`
}

// ExtractEntities implements EntityExtractor. Caps and span validity are
// enforced deterministically after parsing, regardless of what the model
// returned.
func (a *Agents) ExtractEntities(ctx context.Context, paper graph.Paper, sections []graph.Section) ([]CandidateEntity, error) {
	if len(sections) == 0 {
		return nil, nil
	}

	var resp entityResponse
	input := map[string]any{"paper_id": paper.ID, "sections": sectionPayload(sections)}
	if _, err := a.runner.Invoke(ctx, a.spec("entity_extractor", entityPrompt), input, &resp); err != nil {
		return nil, err
	}

	contentByType := make(map[string]string, len(sections))
	for _, s := range sections {
		contentByType[string(s.Type)] += s.Content
	}

	perSection := make(map[string]int)
	metrics := 0
	out := make([]CandidateEntity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		if len(out) >= a.caps.MaxEntities {
			break
		}
		if !graph.NodeType(e.Type).Valid() || strings.TrimSpace(e.Name) == "" {
			continue
		}
		if e.Confidence < 0.5 {
			continue
		}
		if perSection[e.SectionType] >= a.caps.MaxEntitiesPerSect {
			continue
		}
		if graph.NodeType(e.Type) == graph.NodeMetric {
			if metrics >= a.caps.MaxMetrics {
				continue
			}
			metrics++
		}
		content := contentByType[e.SectionType]
		if e.CharStart < 0 || e.CharEnd < e.CharStart || e.CharEnd > len(content) {
			e.CharStart, e.CharEnd = 0, 0
		}
		perSection[e.SectionType]++
		out = append(out, e)
	}
	return out, nil
}

func sectionPayload(sections []graph.Section) []map[string]any {
	out := make([]map[string]any, 0, len(sections))
	for _, s := range sections {
		out = append(out, map[string]any{
			"section_type": string(s.Type),
			"part_index":   s.PartIndex,
			"content":      s.Content,
		})
	}
	return out
}

type relationshipResponse struct {
	Relationships []CandidateRelationship `json:"relationships"`
}

// ExtractRelationships implements RelationshipExtractor via the runner's
// progressive-degradation retry path.
func (a *Agents) ExtractRelationships(ctx context.Context, paper graph.Paper, sections []graph.Section, knownEntities []string) ([]CandidateRelationship, error) {
	if len(sections) == 0 || len(knownEntities) == 0 {
		return nil, nil
	}

	sorted := append([]string(nil), knownEntities...)
	sort.Strings(sorted)

	var resp relationshipResponse
	input := agent.RelationshipInput{
		Sections:     sections,
		KnownNodeIDs: sorted,
		MaxEdges:     a.caps.MaxEdges,
		MinimalCap:   a.caps.MinimalModeCap,
	}
	mode, _, err := a.runner.InvokeRelationshipExtraction(ctx, a.spec("relationship_extractor", relationshipPrompt), input, &resp)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(sorted))
	for _, n := range sorted {
		known[n] = true
	}

	max := a.caps.MaxEdges
	if mode == agent.ModeMinimal && a.caps.MinimalModeCap < max {
		max = a.caps.MinimalModeCap
	}

	out := make([]CandidateRelationship, 0, len(resp.Relationships))
	for _, r := range resp.Relationships {
		if len(out) >= max {
			break
		}
		if !graph.RelationshipType(r.Type).Valid() {
			continue
		}
		if r.SourceName == r.TargetName || !known[r.SourceName] || !known[r.TargetName] {
			continue
		}
		if len(r.Evidence) > 300 {
			r.Evidence = r.Evidence[:300]
		}
		if r.Confidence < 0 {
			r.Confidence = 0
		}
		if r.Confidence > 1 {
			r.Confidence = 1
		}
		out = append(out, r)
	}
	if mode == agent.ModeMinimal {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
		if len(out) > a.caps.MinimalModeCap {
			out = out[:a.caps.MinimalModeCap]
		}
	}
	return out, nil
}

var _ SectionExtractor = (*Agents)(nil)
var _ EntityExtractor = (*Agents)(nil)
var _ RelationshipExtractor = (*Agents)(nil)
