// Package pipeline composes the per-paper ingestion stages: section
// extraction, entity extraction, relationship extraction, deterministic
// validation, resolution, and edge persistence. Every component is an
// injected interface so stores and extractors can be swapped under test.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence"
	"github.com/rcliao/briefkg/internal/resolver"
	"github.com/rcliao/briefkg/internal/validator"
)

// Mode selects whether already-ingested papers are skipped or redone.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeForce       Mode = "force"
)

// Stage names, used in error classification and the run summary.
const (
	StageIngestion     = "ingestion"
	StageEntities      = "entity_extraction"
	StageRelationships = "relationship_extraction"
	StageValidation    = "validation"
	StageResolution    = "resolution"
	StagePersistEdges  = "persist_edges"
)

// PaperInput is one unit of work: paper metadata plus optional full text.
// An empty FullText takes the metadata-only path (abstract-only section).
type PaperInput struct {
	Paper    graph.Paper
	FullText string
}

// PaperResult summarizes one paper's run.
type PaperResult struct {
	PaperID        string
	Skipped        bool
	Sections       int
	EntitiesKept   int
	EdgesKept      int
	NodesResolved  int
	NodesInserted  int
	LinksProposed  int
	LinksApproved  int
}

// PaperFailure records which stage failed a paper and with what code.
type PaperFailure struct {
	PaperID string
	Stage   string
	Code    string
	Err     error
}

// RunSummary aggregates a batch run: which papers succeeded, which failed
// where, printed at the end of a run.
type RunSummary struct {
	Succeeded []PaperResult
	Failed    []PaperFailure
}

// SucceededPaperIDs lists the ids of successfully ingested (non-skipped)
// papers, the seed set for the reasoning batch.
func (s *RunSummary) SucceededPaperIDs() []string {
	out := make([]string, 0, len(s.Succeeded))
	for _, r := range s.Succeeded {
		if !r.Skipped {
			out = append(out, r.PaperID)
		}
	}
	return out
}

// Pipeline orchestrates the per-paper stages over injected components.
type Pipeline struct {
	sections      SectionExtractor
	entities      EntityExtractor
	relationships RelationshipExtractor
	resolver      EntityResolver
	repo          persistence.Repository
	log           *slog.Logger
	mode          Mode
}

// Deps bundles the pipeline's injected components.
type Deps struct {
	Sections      SectionExtractor
	Entities      EntityExtractor
	Relationships RelationshipExtractor
	Resolver      EntityResolver
	Repo          persistence.Repository
	Logger        *slog.Logger
}

// New builds a Pipeline in the given mode.
func New(deps Deps, mode Mode) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if mode == "" {
		mode = ModeIncremental
	}
	return &Pipeline{
		sections:      deps.Sections,
		entities:      deps.Entities,
		relationships: deps.Relationships,
		resolver:      deps.Resolver,
		repo:          deps.Repo,
		log:           log,
		mode:          mode,
	}
}

// Run ingests each input in sequence. A paper's failure is recorded and the
// run proceeds to the next paper. Writes made before a paper's failure stay
// in the store and are not rolled back. Stage 1 stores the paper record
// first, so in incremental mode a later run skips a paper that failed
// part-way; a force-mode re-run repeats its stages and inserts its edges
// again.
func (p *Pipeline) Run(ctx context.Context, inputs []PaperInput) *RunSummary {
	summary := &RunSummary{}
	for _, in := range inputs {
		res, err := p.RunPaper(ctx, in)
		if err != nil {
			stage, code := classify(err)
			p.log.Error("paper failed", "paper_id", in.Paper.ID, "stage", stage, "code", code, "error", err.Error())
			summary.Failed = append(summary.Failed, PaperFailure{PaperID: in.Paper.ID, Stage: stage, Code: code, Err: err})
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		summary.Succeeded = append(summary.Succeeded, res)
	}
	return summary
}

// RunPaper runs all six stages for one paper.
func (p *Pipeline) RunPaper(ctx context.Context, in PaperInput) (PaperResult, error) {
	res := PaperResult{PaperID: in.Paper.ID}
	log := p.log.With("paper_id", in.Paper.ID)

	if p.mode == ModeIncremental {
		existing, err := p.repo.GetExistingPaperIDs(ctx, []string{in.Paper.ID})
		if err != nil {
			return res, stageErr(StageIngestion, err)
		}
		if existing[in.Paper.ID] {
			log.Debug("paper already ingested, skipping")
			res.Skipped = true
			return res, nil
		}
	}

	// Stage 1: ingestion.
	if err := p.repo.UpsertPaper(ctx, in.Paper); err != nil {
		return res, stageErr(StageIngestion, err)
	}
	sections, err := p.sections.ExtractSections(ctx, in.Paper, in.FullText)
	if err != nil {
		return res, stageErr(StageIngestion, err)
	}
	if len(sections) > 0 {
		if err := p.repo.InsertSections(ctx, sections); err != nil {
			return res, stageErr(StageIngestion, err)
		}
	}
	res.Sections = len(sections)
	log.Info("sections extracted", "count", len(sections))

	// Stage 2: entity extraction.
	candidates, err := p.entities.ExtractEntities(ctx, in.Paper, sections)
	if err != nil {
		return res, stageErr(StageEntities, err)
	}

	// Stage 3: relationship extraction.
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	relationships, err := p.relationships.ExtractRelationships(ctx, in.Paper, sections, names)
	if err != nil {
		return res, stageErr(StageRelationships, err)
	}

	// Stage 4: deterministic validation.
	entityResults, edgeResults, sectionByTempID := p.validate(in.Paper, sections, candidates, relationships)
	log.Info("validation done",
		"entities_in", len(candidates), "edges_in", len(relationships))

	// Stage 5: canonicalize + resolve.
	finalID := make(map[string]string, len(entityResults)) // temp id -> resolved node id
	for _, er := range entityResults {
		if er.Node.ReviewStatus == graph.StatusRejected {
			continue
		}
		nodeID, inserted, link, err := p.resolveAndPersist(ctx, in.Paper, er.Node, sectionByTempID[er.Node.ID])
		if err != nil {
			return res, stageErr(StageResolution, err)
		}
		finalID[er.Node.ID] = nodeID
		res.NodesResolved++
		if inserted {
			res.NodesInserted++
		}
		if link != nil {
			switch link.Status {
			case graph.LinkApproved:
				res.LinksApproved++
				finalID[er.Node.ID] = link.CanonicalID
			default:
				res.LinksProposed++
			}
		}
		res.EntitiesKept++
	}

	// Stage 6: persist edges with endpoints rewritten to resolved ids.
	for _, ee := range edgeResults {
		if ee.Edge.ReviewStatus == graph.StatusRejected {
			continue
		}
		src, srcOK := finalID[ee.Edge.SourceNodeID]
		tgt, tgtOK := finalID[ee.Edge.TargetNodeID]
		if !srcOK || !tgtOK || src == tgt {
			continue // endpoint rejected upstream, or merged into the same node
		}
		e := ee.Edge
		e.ID = ""
		e.SourceNodeID = src
		e.TargetNodeID = tgt
		if _, err := p.repo.InsertEdge(ctx, e); err != nil {
			return res, stageErr(StagePersistEdges, err)
		}
		res.EdgesKept++
	}

	log.Info("paper ingested",
		"entities", res.EntitiesKept, "edges", res.EdgesKept,
		"nodes_inserted", res.NodesInserted, "links_approved", res.LinksApproved)
	return res, nil
}

// validate runs stage 4: candidates become temp-id nodes/edges and pass
// through the deterministic validator.
func (p *Pipeline) validate(paper graph.Paper, sections []graph.Section, candidates []CandidateEntity, relationships []CandidateRelationship) ([]validator.EntityResult, []validator.EdgeResult, map[string]graph.SectionType) {
	tempByName := make(map[string]string, len(candidates))
	typeByTempID := make(map[string]graph.NodeType, len(candidates))
	typeByName := make(map[string]graph.NodeType, len(candidates))
	sectionByTempID := make(map[string]graph.SectionType, len(candidates))

	grouped := make(map[graph.SectionType][]graph.Node)
	var sectionOrder []graph.SectionType
	for _, c := range candidates {
		id := uuid.NewString()
		tempByName[c.Name] = id
		n := graph.Node{
			ID:            id,
			Type:          graph.NodeType(c.Type),
			CanonicalName: c.Name,
			Metadata: graph.NodeMetadata{
				Definition:    c.Definition,
				EvidenceQuote: c.EvidenceQuote,
				Aliases:       c.Aliases,
			},
			OriginalConfidence: c.Confidence,
		}
		typeByTempID[id] = n.Type
		typeByName[strings.ToLower(strings.TrimSpace(c.Name))] = n.Type
		st := graph.SectionType(c.SectionType)
		if !st.Valid() {
			st = graph.SectionOther
		}
		sectionByTempID[id] = st
		if _, seen := grouped[st]; !seen {
			sectionOrder = append(sectionOrder, st)
		}
		grouped[st] = append(grouped[st], n)
	}
	bySection := make([]validator.SectionEntities, 0, len(sectionOrder))
	for _, st := range sectionOrder {
		bySection = append(bySection, validator.SectionEntities{Section: st, Entities: grouped[st]})
	}
	entityResults := validator.ValidateEntities(bySection, typeByName, false)

	content := make(validator.SectionContent, len(sections))
	for _, s := range sections {
		content[s.Type] += s.Content
	}

	edges := make([]graph.Edge, 0, len(relationships))
	for i, r := range relationships {
		st := graph.SectionType(r.SectionType)
		if !st.Valid() {
			st = graph.SectionOther
		}
		edges = append(edges, graph.Edge{
			ID:           fmt.Sprintf("tmp-edge-%03d", i),
			SourceNodeID: tempByName[r.SourceName],
			TargetNodeID: tempByName[r.TargetName],
			Type:         graph.RelationshipType(r.Type),
			Confidence:   r.Confidence,
			Evidence:     r.Evidence,
			Provenance: graph.Provenance{
				PaperID:     paper.ID,
				SectionType: st,
				CharStart:   r.CharStart,
				CharEnd:     r.CharEnd,
			},
		})
	}
	edgeResults := validator.ValidateEdges(edges, typeByTempID, content)
	return entityResults, edgeResults, sectionByTempID
}

// resolveAndPersist runs stage 5 for one validated entity: resolve, insert
// node/aliases/link as needed, and attach the entity mention.
func (p *Pipeline) resolveAndPersist(ctx context.Context, paper graph.Paper, candidate graph.Node, section graph.SectionType) (string, bool, *graph.EntityLink, error) {
	resolution, node, err := p.resolver.Resolve(ctx, candidate)
	if err != nil {
		return "", false, nil, err
	}

	nodeID := resolution.NodeID
	inserted := false
	if resolution.IsNew {
		node.ReviewStatus = candidate.ReviewStatus
		node.AdjustedConfidence = candidate.AdjustedConfidence
		id, err := p.repo.InsertNode(ctx, node)
		if err != nil {
			return "", false, nil, err
		}
		nodeID = id
		inserted = true
		if len(node.Embedding) > 0 {
			if err := p.repo.UpsertNodeEmbeddings(ctx, id, node.Embedding, node.EmbeddingReduced); err != nil {
				return "", false, nil, err
			}
		}
	}

	aliasTarget := nodeID
	var link *graph.EntityLink
	if resolution.Link != nil {
		l := *resolution.Link
		l.NodeID = nodeID
		if _, err := p.repo.InsertEntityLink(ctx, l); err != nil {
			return "", false, nil, err
		}
		link = &l
		if l.Status == graph.LinkApproved {
			aliasTarget = l.CanonicalID
		}
	}

	for _, alias := range append([]string{candidate.CanonicalName}, candidate.Metadata.Aliases...) {
		if strings.TrimSpace(alias) == "" {
			continue
		}
		if err := p.repo.InsertEntityAlias(ctx, aliasTarget, alias, resolver.Canonicalize(alias)); err != nil {
			return "", false, nil, err
		}
	}

	if !section.Valid() {
		section = graph.SectionOther
	}
	mention := graph.EntityMention{
		NodeID:       nodeID,
		PaperID:      paper.ID,
		SectionType:  section,
		MentionCount: 1,
	}
	if err := p.repo.InsertEntityMentions(ctx, []graph.EntityMention{mention}); err != nil {
		return "", false, nil, err
	}
	return nodeID, inserted, link, nil
}

// stageErr classifies err under a stage, preserving an existing graph.Error
// kind and mapping context cancellation onto the cancelled kind.
func stageErr(stage string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return graph.New(graph.KindCancelled, "cancelled", err).WithStage(stage)
	}
	var gerr *graph.Error
	if errors.As(err, &gerr) {
		if gerr.Stage == "" {
			return gerr.WithStage(stage)
		}
		return gerr
	}
	return graph.New(graph.KindTransport, "store_failure", err).WithStage(stage)
}

func classify(err error) (stage, code string) {
	var gerr *graph.Error
	if errors.As(err, &gerr) {
		return gerr.Stage, gerr.Code
	}
	return "", "unknown"
}
