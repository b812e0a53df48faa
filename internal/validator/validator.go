// Package validator implements deterministic, rule-based entity/edge
// validation. No network or LLM calls: every decision is a pure function
// of the extracted entities/edges and the paper's sections.
package validator

import (
	"strings"

	"github.com/rcliao/briefkg/internal/graph"
)

// Decision records which rule fired and what it did to an entity or edge.
type Decision struct {
	RuleCode string
	Delta    float64 // confidence adjustment applied, always <= 0
	Outcome  graph.ReviewStatus
}

// EntityResult pairs a validated node with its decision trail.
type EntityResult struct {
	Node      graph.Node
	Decisions []Decision
}

// EdgeResult pairs a validated edge with its decision trail.
type EdgeResult struct {
	Edge      graph.Edge
	Decisions []Decision
}

// stopwords are generic Concept names that get flagged rather than
// rejected outright, since they're common enough to still carry some
// signal once down-weighted.
var stopwords = map[string]bool{
	"method": true, "approach": true, "system": true, "model": true,
	"framework": true, "technique": true, "algorithm": true, "data": true,
	"result": true, "results": true, "performance": true, "problem": true,
}

const (
	minEntityConfidence = 0.5
	maxMetricPerSection = 2
	maxEvidenceChars    = 300
)

// SectionEntities groups a paper's candidate entities by the section they
// were extracted from, since the per-section entity cap and the
// per-section Metric cap are both scoped to one section.
type SectionEntities struct {
	Section  graph.SectionType
	Entities []graph.Node
}

const maxEntitiesPerSection = 4

// ValidateEntities applies every entity rule, section by section,
// returning one EntityResult per candidate entity in call order. Rejected
// entities are still reported with their trail; callers persist only
// Node.ReviewStatus != rejected as queryable, retaining rejected for
// audit.
func ValidateEntities(bySection []SectionEntities, allNodeTypesByName map[string]graph.NodeType, metricFocused bool) []EntityResult {
	var results []EntityResult

	for _, group := range bySection {
		metricCount := 0
		entityCount := 0

		for _, n := range group.Entities {
			var decisions []Decision
			adjusted := n.OriginalConfidence
			status := graph.StatusApproved

			if n.OriginalConfidence < minEntityConfidence {
				decisions = append(decisions, Decision{RuleCode: "low_confidence", Outcome: graph.StatusRejected})
				status = graph.StatusRejected
			}

			if status != graph.StatusRejected {
				entityCount++
				if entityCount > maxEntitiesPerSection {
					decisions = append(decisions, Decision{RuleCode: "section_entity_cap_exceeded", Outcome: graph.StatusRejected})
					status = graph.StatusRejected
				}
			}

			if status != graph.StatusRejected {
				if n.Type == graph.NodeConcept && isGeneric(n.CanonicalName) {
					delta := -0.1
					adjusted += delta
					decisions = append(decisions, Decision{RuleCode: "generic_concept", Delta: delta, Outcome: graph.StatusFlagged})
					status = graph.StatusFlagged
				}

				if (n.Type == graph.NodeMethod || n.Type == graph.NodeDataset) && allNodeTypesByName != nil {
					if other, ok := allNodeTypesByName[normalizedForCollisionCheck(n.CanonicalName)]; ok && other != n.Type {
						delta := -0.1
						adjusted += delta
						decisions = append(decisions, Decision{RuleCode: "type_collision", Delta: delta, Outcome: graph.StatusFlagged})
						if status == graph.StatusApproved {
							status = graph.StatusFlagged
						}
					}
				}

				if n.Type == graph.NodeMetric && !metricFocused {
					metricCount++
					if metricCount > maxMetricPerSection {
						decisions = append(decisions, Decision{RuleCode: "metric_cap_exceeded", Outcome: graph.StatusRejected})
						status = graph.StatusRejected
					}
				}
			}

			if adjusted < 0 {
				adjusted = 0
			}
			if adjusted > n.OriginalConfidence {
				adjusted = n.OriginalConfidence // confidence adjustment never increases
			}

			n.AdjustedConfidence = adjusted
			n.ReviewStatus = status
			results = append(results, EntityResult{Node: n, Decisions: decisions})
		}
	}
	return results
}

func isGeneric(name string) bool {
	return stopwords[strings.ToLower(strings.TrimSpace(name))]
}

func normalizedForCollisionCheck(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SectionContent looks up a section's content by type, used by
// ValidateEdges to check the evidence-substring invariant.
type SectionContent map[graph.SectionType]string

// ValidateEdges applies every edge rule: self-edge and unknown-endpoint
// rejection, improves_on target-type rejection, evidence
// substring/truncation, deduplication by (source, target, type), and
// confidence clamping.
func ValidateEdges(edges []graph.Edge, knownNodeIDs map[string]graph.NodeType, sections SectionContent) []EdgeResult {
	type dedupKey struct {
		src, tgt string
		typ      graph.RelationshipType
	}
	best := make(map[dedupKey]int) // index into survivors

	var survivors []EdgeResult
	for _, e := range edges {
		var decisions []Decision
		status := graph.StatusApproved
		rejected := false

		if e.SourceNodeID == e.TargetNodeID {
			decisions = append(decisions, Decision{RuleCode: "self_edge", Outcome: graph.StatusRejected})
			rejected = true
		}
		if _, ok := knownNodeIDs[e.SourceNodeID]; !ok {
			decisions = append(decisions, Decision{RuleCode: "unknown_source", Outcome: graph.StatusRejected})
			rejected = true
		}
		if _, ok := knownNodeIDs[e.TargetNodeID]; !ok {
			decisions = append(decisions, Decision{RuleCode: "unknown_target", Outcome: graph.StatusRejected})
			rejected = true
		}
		if !rejected && e.Type == graph.RelImprovesOn {
			if t := knownNodeIDs[e.TargetNodeID]; t == graph.NodeDataset || t == graph.NodeMetric {
				decisions = append(decisions, Decision{RuleCode: "improves_on_bad_target", Outcome: graph.StatusRejected})
				rejected = true
			}
		}

		if rejected {
			e.ReviewStatus = graph.StatusRejected
			survivors = append(survivors, EdgeResult{Edge: e, Decisions: decisions})
			continue
		}

		if len(e.Evidence) > maxEvidenceChars {
			e.Evidence = e.Evidence[:maxEvidenceChars]
			decisions = append(decisions, Decision{RuleCode: "evidence_truncated"})
		}
		if sections != nil {
			content := sections[e.Provenance.SectionType]
			if !evidencePresent(e.Evidence, content) {
				decisions = append(decisions, Decision{RuleCode: "evidence_not_verbatim", Delta: -0.15, Outcome: graph.StatusFlagged})
				e.Confidence -= 0.15
				status = graph.StatusFlagged
			}
		}

		if e.Confidence < 0 {
			e.Confidence = 0
		}
		if e.Confidence > 1 {
			e.Confidence = 1
		}
		e.ReviewStatus = status

		key := dedupKey{e.SourceNodeID, e.TargetNodeID, e.Type}
		if idx, exists := best[key]; exists {
			existing := survivors[idx].Edge
			if e.Confidence > existing.Confidence || (e.Confidence == existing.Confidence && e.ID < existing.ID) {
				survivors[idx] = EdgeResult{Edge: e, Decisions: decisions}
			}
			continue
		}
		best[key] = len(survivors)
		survivors = append(survivors, EdgeResult{Edge: e, Decisions: decisions})
	}
	return survivors
}

// evidencePresent is the strict substring check: the quote must appear
// verbatim (after whitespace normalization) in the cited section's
// content.
func evidencePresent(evidence, sectionContent string) bool {
	if sectionContent == "" {
		return false
	}
	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Contains(normalize(sectionContent), normalize(evidence))
}
