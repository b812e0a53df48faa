package validator

import (
	"strings"
	"testing"

	"github.com/rcliao/briefkg/internal/graph"
)

func entity(id, name string, typ graph.NodeType, conf float64) graph.Node {
	return graph.Node{ID: id, CanonicalName: name, Type: typ, OriginalConfidence: conf}
}

func TestValidateEntities_LowConfidenceRejected(t *testing.T) {
	results := ValidateEntities([]SectionEntities{{
		Section:  graph.SectionMethods,
		Entities: []graph.Node{entity("n1", "Gaussian Splatting", graph.NodeMethod, 0.4)},
	}}, nil, false)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Node.ReviewStatus != graph.StatusRejected {
		t.Errorf("confidence 0.4 must be rejected, got %s", results[0].Node.ReviewStatus)
	}
	if results[0].Decisions[0].RuleCode != "low_confidence" {
		t.Errorf("expected low_confidence rule, got %s", results[0].Decisions[0].RuleCode)
	}
}

func TestValidateEntities_GenericConceptFlaggedAndDownweighted(t *testing.T) {
	results := ValidateEntities([]SectionEntities{{
		Section:  graph.SectionAbstract,
		Entities: []graph.Node{entity("n1", "framework", graph.NodeConcept, 0.8)},
	}}, nil, false)

	n := results[0].Node
	if n.ReviewStatus != graph.StatusFlagged {
		t.Errorf("generic concept must be flagged, got %s", n.ReviewStatus)
	}
	if n.AdjustedConfidence >= n.OriginalConfidence {
		t.Errorf("adjustment must decrease confidence: %f -> %f", n.OriginalConfidence, n.AdjustedConfidence)
	}
}

func TestValidateEntities_ConfidenceNeverIncreases(t *testing.T) {
	results := ValidateEntities([]SectionEntities{{
		Section:  graph.SectionResults,
		Entities: []graph.Node{entity("n1", "PSNR", graph.NodeMetric, 0.9)},
	}}, nil, false)
	if got := results[0].Node.AdjustedConfidence; got > 0.9 {
		t.Errorf("adjusted confidence %f exceeds original 0.9", got)
	}
}

func TestValidateEntities_MetricCapPerSection(t *testing.T) {
	entities := []graph.Node{
		entity("m1", "PSNR", graph.NodeMetric, 0.9),
		entity("m2", "SSIM", graph.NodeMetric, 0.8),
		entity("m3", "LPIPS", graph.NodeMetric, 0.7),
	}
	results := ValidateEntities([]SectionEntities{{Section: graph.SectionResults, Entities: entities}}, nil, false)

	rejected := 0
	for _, r := range results {
		if r.Node.ReviewStatus == graph.StatusRejected {
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("third metric must be rejected by the cap, got %d rejections", rejected)
	}

	// The metric-focused flag lifts the cap.
	results = ValidateEntities([]SectionEntities{{Section: graph.SectionResults, Entities: entities}}, nil, true)
	for _, r := range results {
		if r.Node.ReviewStatus == graph.StatusRejected {
			t.Errorf("metric-focused run must not reject %s", r.Node.CanonicalName)
		}
	}
}

func TestValidateEntities_SectionEntityCap(t *testing.T) {
	var entities []graph.Node
	names := []string{"NeRF", "Gaussians", "Rasterizer", "Voxel Grid", "Plenoxels"}
	for i, name := range names {
		entities = append(entities, entity(names[i], name, graph.NodeMethod, 0.9))
	}
	results := ValidateEntities([]SectionEntities{{Section: graph.SectionMethods, Entities: entities}}, nil, false)

	rejected := 0
	for _, r := range results {
		if r.Node.ReviewStatus == graph.StatusRejected {
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("fifth entity in one section must be rejected, got %d rejections", rejected)
	}
}

func TestValidateEntities_TypeCollisionFlagged(t *testing.T) {
	known := map[string]graph.NodeType{"kitti": graph.NodeDataset}
	results := ValidateEntities([]SectionEntities{{
		Section:  graph.SectionMethods,
		Entities: []graph.Node{entity("n1", "KITTI", graph.NodeMethod, 0.8)},
	}}, known, false)

	if results[0].Node.ReviewStatus != graph.StatusFlagged {
		t.Errorf("name colliding with another type must be flagged, got %s", results[0].Node.ReviewStatus)
	}
}

func edgesFixture() (map[string]graph.NodeType, SectionContent) {
	known := map[string]graph.NodeType{
		"a": graph.NodeMethod,
		"b": graph.NodeMethod,
		"d": graph.NodeDataset,
	}
	sections := SectionContent{
		graph.SectionMethods: "Our approach improves rendering quality over prior splatting work.",
	}
	return known, sections
}

func edge(id, src, tgt string, typ graph.RelationshipType, conf float64, evidence string) graph.Edge {
	return graph.Edge{
		ID: id, SourceNodeID: src, TargetNodeID: tgt, Type: typ, Confidence: conf,
		Evidence:   evidence,
		Provenance: graph.Provenance{SectionType: graph.SectionMethods},
	}
}

func TestValidateEdges_SelfEdgeRejected(t *testing.T) {
	known, sections := edgesFixture()
	results := ValidateEdges([]graph.Edge{edge("e1", "a", "a", graph.RelUses, 0.9, "")}, known, sections)
	if results[0].Edge.ReviewStatus != graph.StatusRejected {
		t.Error("self-edge must be rejected")
	}
}

func TestValidateEdges_UnknownEndpointRejected(t *testing.T) {
	known, sections := edgesFixture()
	results := ValidateEdges([]graph.Edge{edge("e1", "a", "ghost", graph.RelUses, 0.9, "")}, known, sections)
	if results[0].Edge.ReviewStatus != graph.StatusRejected {
		t.Error("edge with unknown endpoint must be rejected")
	}
}

func TestValidateEdges_ImprovesOnDatasetRejected(t *testing.T) {
	known, sections := edgesFixture()
	results := ValidateEdges([]graph.Edge{edge("e1", "a", "d", graph.RelImprovesOn, 0.9, "")}, known, sections)
	if results[0].Edge.ReviewStatus != graph.StatusRejected {
		t.Error("improves_on targeting a Dataset must be rejected")
	}
	found := false
	for _, d := range results[0].Decisions {
		if d.RuleCode == "improves_on_bad_target" {
			found = true
		}
	}
	if !found {
		t.Error("expected improves_on_bad_target decision")
	}
}

func TestValidateEdges_EvidenceTruncatedAt300(t *testing.T) {
	known, sections := edgesFixture()
	long := strings.Repeat("x", 400)
	results := ValidateEdges([]graph.Edge{edge("e1", "a", "b", graph.RelUses, 0.9, long)}, known, sections)
	if got := len(results[0].Edge.Evidence); got != 300 {
		t.Errorf("evidence length = %d, want 300", got)
	}
}

func TestValidateEdges_NonVerbatimEvidenceFlagged(t *testing.T) {
	known, sections := edgesFixture()
	results := ValidateEdges([]graph.Edge{
		edge("e1", "a", "b", graph.RelUses, 0.9, "this quote appears nowhere"),
	}, known, sections)
	e := results[0].Edge
	if e.ReviewStatus != graph.StatusFlagged {
		t.Errorf("non-verbatim evidence must flag the edge, got %s", e.ReviewStatus)
	}
	if e.Confidence >= 0.9 {
		t.Errorf("flagged edge confidence must drop below 0.9, got %f", e.Confidence)
	}
}

func TestValidateEdges_VerbatimEvidenceApproved(t *testing.T) {
	known, sections := edgesFixture()
	results := ValidateEdges([]graph.Edge{
		edge("e1", "a", "b", graph.RelImprovesOn, 0.9, "improves rendering quality over prior splatting work"),
	}, known, sections)
	if got := results[0].Edge.ReviewStatus; got != graph.StatusApproved {
		t.Errorf("verbatim evidence should stay approved, got %s", got)
	}
}

func TestValidateEdges_DeduplicatesKeepingHighestConfidence(t *testing.T) {
	known, sections := edgesFixture()
	quote := "improves rendering quality"
	results := ValidateEdges([]graph.Edge{
		edge("e1", "a", "b", graph.RelUses, 0.7, quote),
		edge("e2", "a", "b", graph.RelUses, 0.9, quote),
		edge("e3", "a", "b", graph.RelEvaluates, 0.5, quote),
	}, known, sections)

	if len(results) != 2 {
		t.Fatalf("expected 2 surviving edges, got %d", len(results))
	}
	if results[0].Edge.ID != "e2" {
		t.Errorf("highest-confidence duplicate must survive, got %s", results[0].Edge.ID)
	}
}

func TestValidateEdges_ConfidenceClamped(t *testing.T) {
	known, sections := edgesFixture()
	quote := "improves rendering quality"
	results := ValidateEdges([]graph.Edge{
		edge("e1", "a", "b", graph.RelUses, 1.7, quote),
	}, known, sections)
	if got := results[0].Edge.Confidence; got != 1.0 {
		t.Errorf("confidence must clamp to 1.0, got %f", got)
	}
}
