// Package reasoning implements the batch inference engine: after a batch of
// papers ingests, it induces the depth-2 subgraph around the affected nodes
// and runs three deterministic rule families — transitive chains, concept
// clusters, and anomalies — over the persisted graph only, never over text.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence"
)

const (
	subgraphDepth     = 2
	minChainEdgeConf  = 0.6
	twoHopFactor      = 0.9
	threeHopFactor    = 0.8
	clusterCap        = 0.85
	smallCorpusFactor = 0.8
	smallCorpusSize   = 10
	minClusterPapers  = 3
	normPaperCount    = 3 // papers needed before an anomaly is statistically meaningful
	maxInsightsPerRun = 10
)

// Result is what a reasoning batch returns.
type Result struct {
	InsightsCount int
	Insights      []graph.InferredInsight
}

// Engine runs reasoning batches over a Repository.
type Engine struct {
	repo persistence.Repository
	log  *slog.Logger
}

// New builds an Engine.
func New(repo persistence.Repository, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{repo: repo, log: log}
}

// RunBatch induces the depth-2 subgraph reachable from the nodes the
// affected papers touched, applies every rule family, deduplicates, caps
// the run at 10 highest-confidence insights, and persists them.
func (e *Engine) RunBatch(ctx context.Context, affectedPaperIDs []string) (*Result, error) {
	if len(affectedPaperIDs) == 0 {
		return &Result{}, nil
	}

	seeds, err := e.seedNodes(ctx, affectedPaperIDs)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		e.log.Info("reasoning: no nodes touched by batch, skipping")
		return &Result{}, nil
	}

	sub, err := e.repo.GetSubgraph(ctx, seeds, subgraphDepth)
	if err != nil {
		return nil, fmt.Errorf("reasoning: induce subgraph: %w", err)
	}

	g := buildView(sub)

	var insights []graph.InferredInsight
	insights = append(insights, transitiveInsights(g)...)
	insights = append(insights, clusterInsights(g)...)
	insights = append(insights, anomalyInsights(g)...)

	insights = dedupeAndCap(insights)
	if len(insights) > 0 {
		if err := e.repo.InsertInsights(ctx, insights); err != nil {
			return nil, fmt.Errorf("reasoning: persist insights: %w", err)
		}
	}
	e.log.Info("reasoning batch done", "affected_papers", len(affectedPaperIDs), "insights", len(insights))
	return &Result{InsightsCount: len(insights), Insights: insights}, nil
}

// seedNodes maps affected paper ids onto the node ids their edges touch,
// via edge provenance.
func (e *Engine) seedNodes(ctx context.Context, paperIDs []string) ([]string, error) {
	data, err := e.repo.GetGraphData(ctx)
	if err != nil {
		return nil, fmt.Errorf("reasoning: load graph data: %w", err)
	}
	affected := make(map[string]bool, len(paperIDs))
	for _, id := range paperIDs {
		affected[id] = true
	}
	seen := make(map[string]bool)
	var seeds []string
	for _, edge := range data.Edges {
		if !affected[edge.Provenance.PaperID] {
			continue
		}
		for _, id := range []string{edge.SourceNodeID, edge.TargetNodeID} {
			if !seen[id] {
				seen[id] = true
				seeds = append(seeds, id)
			}
		}
	}
	sort.Strings(seeds)
	return seeds, nil
}

// view is the in-memory working form of the induced subgraph: approved
// edges only (the default query surface), indexed by source node.
type view struct {
	nodes    map[string]graph.Node
	edges    []graph.Edge
	bySource map[string][]graph.Edge
	incident map[string]int
	papers   map[string]bool // distinct provenance paper ids
}

func buildView(sub persistence.Subgraph) *view {
	v := &view{
		nodes:    make(map[string]graph.Node, len(sub.Nodes)),
		bySource: make(map[string][]graph.Edge),
		incident: make(map[string]int),
		papers:   make(map[string]bool),
	}
	for _, n := range sub.Nodes {
		v.nodes[n.ID] = n
	}
	for _, e := range sub.Edges {
		if e.ReviewStatus != graph.StatusApproved {
			continue
		}
		v.edges = append(v.edges, e)
		v.bySource[e.SourceNodeID] = append(v.bySource[e.SourceNodeID], e)
		v.incident[e.SourceNodeID]++
		v.incident[e.TargetNodeID]++
		if e.Provenance.PaperID != "" {
			v.papers[e.Provenance.PaperID] = true
		}
	}
	sort.Slice(v.edges, func(i, j int) bool { return v.edges[i].ID < v.edges[j].ID })
	for _, edges := range v.bySource {
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	}
	return v
}

func chainEligible(e graph.Edge) bool {
	return (e.Type == graph.RelImprovesOn || e.Type == graph.RelExtends) && e.Confidence > minChainEdgeConf
}

// transitiveInsights finds chains A -> B -> C (and -> D) over
// improves_on/extends edges where every edge's confidence exceeds 0.6.
func transitiveInsights(v *view) []graph.InferredInsight {
	var out []graph.InferredInsight
	for _, e1 := range v.edges {
		if !chainEligible(e1) {
			continue
		}
		for _, e2 := range v.bySource[e1.TargetNodeID] {
			if !chainEligible(e2) || e2.TargetNodeID == e1.SourceNodeID || e2.ID == e1.ID {
				continue
			}
			out = append(out, chainInsight(v, []graph.Edge{e1, e2}, twoHopFactor))

			for _, e3 := range v.bySource[e2.TargetNodeID] {
				if !chainEligible(e3) || e3.ID == e1.ID || e3.ID == e2.ID {
					continue
				}
				if e3.TargetNodeID == e1.SourceNodeID || e3.TargetNodeID == e1.TargetNodeID {
					continue
				}
				out = append(out, chainInsight(v, []graph.Edge{e1, e2, e3}, threeHopFactor))
			}
		}
	}
	return out
}

func chainInsight(v *view, chain []graph.Edge, factor float64) graph.InferredInsight {
	minConf := chain[0].Confidence
	subjects := []string{chain[0].SourceNodeID}
	refs := make([]string, 0, len(chain))
	var claim strings.Builder
	claim.WriteString(nodeName(v, chain[0].SourceNodeID))
	for _, e := range chain {
		if e.Confidence < minConf {
			minConf = e.Confidence
		}
		subjects = append(subjects, e.TargetNodeID)
		refs = append(refs, e.ID)
		claim.WriteString(fmt.Sprintf(" %s %s", e.Type, nodeName(v, e.TargetNodeID)))
	}
	sort.Strings(subjects)
	return graph.InferredInsight{
		Type:         graph.InsightTransitive,
		SubjectNodes: subjects,
		ReasoningPath: graph.ReasoningStep{
			Claim:    claim.String(),
			EdgeRefs: refs,
			RuleName: fmt.Sprintf("transitive_%dhop", len(chain)),
		},
		Confidence: minConf * factor,
	}
}

func nodeName(v *view, id string) string {
	if n, ok := v.nodes[id]; ok {
		return n.CanonicalName
	}
	return id
}

// clusterInsights finds sets of >= 2 Concept nodes co-used by >= 3 distinct
// papers through uses/introduces edges: concepts sharing enough paper
// support form components, one insight per component.
func clusterInsights(v *view) []graph.InferredInsight {
	// Concept -> paper support, plus the citing edges.
	support := make(map[string]map[string]bool)
	citing := make(map[string][]graph.Edge)
	for _, e := range v.edges {
		if e.Type != graph.RelUses && e.Type != graph.RelIntroduces {
			continue
		}
		for _, id := range []string{e.SourceNodeID, e.TargetNodeID} {
			n, ok := v.nodes[id]
			if !ok || n.Type != graph.NodeConcept {
				continue
			}
			if support[id] == nil {
				support[id] = make(map[string]bool)
			}
			if e.Provenance.PaperID != "" {
				support[id][e.Provenance.PaperID] = true
			}
			citing[id] = append(citing[id], e)
		}
	}

	concepts := make([]string, 0, len(support))
	for id := range support {
		concepts = append(concepts, id)
	}
	sort.Strings(concepts)

	// Union concepts that share >= 3 papers.
	parent := make(map[string]string, len(concepts))
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, c := range concepts {
		parent[c] = c
	}
	for i := 0; i < len(concepts); i++ {
		for j := i + 1; j < len(concepts); j++ {
			if sharedPapers(support[concepts[i]], support[concepts[j]]) >= minClusterPapers {
				parent[find(concepts[i])] = find(concepts[j])
			}
		}
	}

	components := make(map[string][]string)
	for _, c := range concepts {
		root := find(c)
		components[root] = append(components[root], c)
	}
	roots := make([]string, 0, len(components))
	for r := range components {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	totalPapers := len(v.papers)
	var out []graph.InferredInsight
	for _, root := range roots {
		members := components[root]
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)

		sharing := make(map[string]bool)
		var confSum float64
		var refs []string
		edgeSeen := make(map[string]bool)
		count := 0
		for _, m := range members {
			for p := range support[m] {
				sharing[p] = true
			}
			for _, e := range citing[m] {
				if edgeSeen[e.ID] {
					continue
				}
				edgeSeen[e.ID] = true
				refs = append(refs, e.ID)
				confSum += e.Confidence
				count++
			}
		}
		if count == 0 || totalPapers == 0 {
			continue
		}
		sort.Strings(refs)

		conf := (float64(len(sharing)) / float64(totalPapers)) * (confSum / float64(count))
		if conf > clusterCap {
			conf = clusterCap
		}
		if totalPapers < smallCorpusSize {
			conf *= smallCorpusFactor
		}

		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, nodeName(v, m))
		}
		out = append(out, graph.InferredInsight{
			Type:         graph.InsightConceptCluster,
			SubjectNodes: members,
			ReasoningPath: graph.ReasoningStep{
				Claim:    fmt.Sprintf("concepts %s are co-used by %d papers", strings.Join(names, ", "), len(sharing)),
				EdgeRefs: refs,
				RuleName: "concept_cluster",
			},
			Confidence: conf,
		})
	}
	return out
}

func sharedPapers(a, b map[string]bool) int {
	n := 0
	for p := range a {
		if b[p] {
			n++
		}
	}
	return n
}

// anomalyInsights emits the three anomaly rules, but only once the
// subgraph contains enough papers to define a norm.
func anomalyInsights(v *view) []graph.InferredInsight {
	if len(v.papers) < normPaperCount {
		return nil
	}

	var out []graph.InferredInsight

	// Group edges by provenance paper.
	byPaper := make(map[string][]graph.Edge)
	var paperIDs []string
	for _, e := range v.edges {
		p := e.Provenance.PaperID
		if p == "" {
			continue
		}
		if _, ok := byPaper[p]; !ok {
			paperIDs = append(paperIDs, p)
		}
		byPaper[p] = append(byPaper[p], e)
	}
	sort.Strings(paperIDs)

	// Datasets used by more than one paper are "common".
	datasetUsers := make(map[string]map[string]bool)
	for _, e := range v.edges {
		if e.Type != graph.RelUses {
			continue
		}
		if n, ok := v.nodes[e.TargetNodeID]; ok && n.Type == graph.NodeDataset && e.Provenance.PaperID != "" {
			if datasetUsers[e.TargetNodeID] == nil {
				datasetUsers[e.TargetNodeID] = make(map[string]bool)
			}
			datasetUsers[e.TargetNodeID][e.Provenance.PaperID] = true
		}
	}
	common := make(map[string]bool)
	for id, users := range datasetUsers {
		if len(users) >= 2 {
			common[id] = true
		}
	}

	for _, p := range paperIDs {
		edges := byPaper[p]
		var improves []graph.Edge
		evaluatesDataset := false
		usesCommon := false
		for _, e := range edges {
			switch e.Type {
			case graph.RelImprovesOn:
				improves = append(improves, e)
			case graph.RelEvaluates:
				if n, ok := v.nodes[e.TargetNodeID]; ok && n.Type == graph.NodeDataset {
					evaluatesDataset = true
				}
			case graph.RelUses:
				if common[e.TargetNodeID] {
					usesCommon = true
				}
			}
		}
		if len(improves) == 0 {
			continue
		}

		if !evaluatesDataset {
			e := improves[0]
			out = append(out, anomaly(v, e, 0.7, "missing_evaluation",
				fmt.Sprintf("paper %s claims %s but evaluates no dataset", p, e.Type)))
		}
		for _, e := range improves {
			if e.Confidence > 0.8 && !usesCommon {
				out = append(out, anomaly(v, e, 0.6, "no_common_dataset_usage",
					fmt.Sprintf("paper %s makes a high-confidence improvement claim without using any shared dataset", p)))
				break
			}
		}
	}

	// Isolated Method nodes.
	var methodIDs []string
	for id, n := range v.nodes {
		if n.Type == graph.NodeMethod && v.incident[id] == 0 {
			methodIDs = append(methodIDs, id)
		}
	}
	sort.Strings(methodIDs)
	for _, id := range methodIDs {
		out = append(out, graph.InferredInsight{
			Type:         graph.InsightAnomaly,
			SubjectNodes: []string{id},
			ReasoningPath: graph.ReasoningStep{
				Claim:    fmt.Sprintf("method %s has no relationships in the graph", nodeName(v, id)),
				RuleName: "isolated_method",
			},
			Confidence: 0.5,
		})
	}
	return out
}

func anomaly(v *view, e graph.Edge, conf float64, rule, claim string) graph.InferredInsight {
	if conf > e.Confidence {
		conf = e.Confidence // never exceed cited evidence
	}
	subjects := []string{e.SourceNodeID, e.TargetNodeID}
	sort.Strings(subjects)
	return graph.InferredInsight{
		Type:         graph.InsightAnomaly,
		SubjectNodes: subjects,
		ReasoningPath: graph.ReasoningStep{
			Claim:    claim,
			EdgeRefs: []string{e.ID},
			RuleName: rule,
		},
		Confidence: conf,
	}
}

// dedupeAndCap enforces the novelty policy: one insight per
// (type, subject set), highest confidence wins; at most 10 per run.
func dedupeAndCap(insights []graph.InferredInsight) []graph.InferredInsight {
	best := make(map[string]graph.InferredInsight)
	var order []string
	for _, in := range insights {
		sort.Strings(in.SubjectNodes)
		key := string(in.Type) + "|" + strings.Join(in.SubjectNodes, ",")
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = in
			continue
		}
		if in.Confidence > existing.Confidence {
			best[key] = in
		}
	}
	out := make([]graph.InferredInsight, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > maxInsightsPerRun {
		out = out[:maxInsightsPerRun]
	}
	return out
}
