// Package dedupe implements the offline/periodic batch deduplication pass:
// group nodes into exact and near-duplicate clusters, resolve each cluster
// to a single winner via union-find, rewrite every edge/mention reference,
// and delete the losers.
package dedupe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence"
)

// minSimilarNameLen is the length above which the fuzzy Levenshtein pass
// runs; shorter names are mostly acronyms where one character changes the
// referent.
const minSimilarNameLen = 5

// deleteBatchSize bounds each loser-deletion statement.
const deleteBatchSize = 100

// MergeEntry is one loser->winner mapping in the merge map, reported in
// both dry-run and applied modes.
type MergeEntry struct {
	LoserID  string
	WinnerID string
	Reason   string // "exact" or "similar"
}

// MergeMap is the dry-run (or post-hoc audit) output of a dedupe pass.
type MergeMap struct {
	Merges []MergeEntry
}

// Result is returned by Run in non-dry-run mode: the applied merge map plus
// counts of rewritten edges/mentions and deleted nodes.
type Result struct {
	MergeMap       MergeMap
	EdgesRewritten int
	EdgesDeduped   int
	NodesDeleted   int
}

// Deduper runs the batch pass over a Repository.
type Deduper struct {
	repo persistence.Repository
}

// New builds a Deduper.
func New(repo persistence.Repository) *Deduper {
	return &Deduper{repo: repo}
}

// Plan computes the merge map without mutating the repository: the dry-run
// mode, and the read side of Run.
func (d *Deduper) Plan(ctx context.Context) (MergeMap, map[string]graph.Node, error) {
	data, err := d.repo.GetGraphData(ctx)
	if err != nil {
		return MergeMap{}, nil, fmt.Errorf("dedupe: load graph data: %w", err)
	}

	byID := make(map[string]graph.Node, len(data.Nodes))
	for _, n := range data.Nodes {
		byID[n.ID] = n
	}

	uf := newUnionFind()
	var merges []MergeEntry

	exactGroups := groupExact(data.Nodes)
	for _, group := range exactGroups {
		for i := 1; i < len(group); i++ {
			uf.union(group[0].ID, group[i].ID)
		}
	}

	byType := make(map[graph.NodeType][]graph.Node)
	for _, n := range data.Nodes {
		if n.Type == graph.NodePaper {
			continue // paper nodes never fuzzy-merge
		}
		byType[n.Type] = append(byType[n.Type], n)
	}
	for _, nodes := range byType {
		similarPairs := findSimilarPairs(nodes)
		for _, p := range similarPairs {
			uf.union(p[0], p[1])
		}
	}

	groups := uf.groups()
	for _, memberIDs := range groups {
		members := make([]graph.Node, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, byID[id])
		}
		winner := selectWinner(members)
		for _, m := range members {
			if m.ID == winner.ID {
				continue
			}
			reason := "exact"
			if m.CanonicalName != winner.CanonicalName {
				reason = "similar"
			}
			merges = append(merges, MergeEntry{LoserID: m.ID, WinnerID: winner.ID, Reason: reason})
		}
	}

	sort.Slice(merges, func(i, j int) bool { return merges[i].LoserID < merges[j].LoserID })

	// Safety check: a winner must never also appear as a loser of some
	// other group.
	winners := make(map[string]bool)
	for _, memberIDs := range groups {
		winners[selectWinner(nodesFor(memberIDs, byID)).ID] = true
	}
	for _, m := range merges {
		if winners[m.LoserID] {
			return MergeMap{}, nil, fmt.Errorf("dedupe: integrity violation: winner %s also appears as a loser", m.LoserID)
		}
	}

	return MergeMap{Merges: merges}, byID, nil
}

// Run executes the batch pass. In dryRun mode it returns the plan without
// touching the repository; otherwise it rewrites edges/mentions, re-dedupes
// edges, runs the integrity check, and deletes losers in batches.
func (d *Deduper) Run(ctx context.Context, dryRun bool) (Result, error) {
	plan, _, err := d.Plan(ctx)
	if err != nil {
		return Result{}, err
	}
	if dryRun {
		return Result{MergeMap: plan}, nil
	}

	for _, m := range plan.Merges {
		if err := d.repo.UpdateMentionsNode(ctx, m.LoserID, m.WinnerID); err != nil {
			return Result{}, fmt.Errorf("dedupe: rewrite mentions for %s: %w", m.LoserID, err)
		}
	}

	rootOf := make(map[string]string, len(plan.Merges))
	for _, m := range plan.Merges {
		rootOf[m.LoserID] = m.WinnerID
	}

	rewritten, err := d.rewriteEdges(ctx, rootOf)
	if err != nil {
		return Result{}, err
	}

	deduped, err := d.redupeEdges(ctx)
	if err != nil {
		return Result{}, err
	}

	if err := d.integrityCheck(ctx, rootOf); err != nil {
		return Result{}, err
	}

	loserIDs := make([]string, 0, len(plan.Merges))
	for _, m := range plan.Merges {
		loserIDs = append(loserIDs, m.LoserID)
	}
	deleted := 0
	for start := 0; start < len(loserIDs); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(loserIDs) {
			end = len(loserIDs)
		}
		batch := loserIDs[start:end]
		if err := d.repo.DeleteNodes(ctx, batch); err != nil {
			return Result{}, fmt.Errorf("dedupe: delete losers batch %d: %w", start/deleteBatchSize, err)
		}
		deleted += len(batch)
	}

	return Result{MergeMap: plan, EdgesRewritten: rewritten, EdgesDeduped: deduped, NodesDeleted: deleted}, nil
}

// rewriteEdges repoints references: every edge whose endpoint is a loser is
// repointed at its root.
func (d *Deduper) rewriteEdges(ctx context.Context, rootOf map[string]string) (int, error) {
	data, err := d.repo.GetGraphData(ctx)
	if err != nil {
		return 0, fmt.Errorf("dedupe: reload graph data: %w", err)
	}
	count := 0
	for _, e := range data.Edges {
		newSrc, srcChanged := rootOf[e.SourceNodeID]
		newTgt, tgtChanged := rootOf[e.TargetNodeID]
		if !srcChanged && !tgtChanged {
			continue
		}
		var srcPtr, tgtPtr *string
		if srcChanged {
			srcPtr = &newSrc
		}
		if tgtChanged {
			tgtPtr = &newTgt
		}
		if err := d.repo.UpdateEdgeEndpoints(ctx, e.ID, srcPtr, tgtPtr); err != nil {
			return 0, fmt.Errorf("dedupe: rewrite edge %s: %w", e.ID, err)
		}
		count++
	}
	return count, nil
}

// redupeEdges collapses duplicates: after rewriting, edges that now share
// (source, target, type) are deduplicated, keeping the highest-confidence,
// lowest-id survivor.
func (d *Deduper) redupeEdges(ctx context.Context) (int, error) {
	data, err := d.repo.GetGraphData(ctx)
	if err != nil {
		return 0, fmt.Errorf("dedupe: reload graph data for edge dedup: %w", err)
	}
	type key struct {
		src, tgt string
		typ      graph.RelationshipType
	}
	best := make(map[key]graph.Edge)
	var toDelete []string
	for _, e := range data.Edges {
		k := key{e.SourceNodeID, e.TargetNodeID, e.Type}
		existing, ok := best[k]
		if !ok {
			best[k] = e
			continue
		}
		if e.Confidence > existing.Confidence || (e.Confidence == existing.Confidence && e.ID < existing.ID) {
			toDelete = append(toDelete, existing.ID)
			best[k] = e
		} else {
			toDelete = append(toDelete, e.ID)
		}
	}
	if len(toDelete) == 0 {
		return 0, nil
	}
	if err := d.repo.DeleteEdges(ctx, toDelete); err != nil {
		return 0, fmt.Errorf("dedupe: delete duplicate edges: %w", err)
	}
	return len(toDelete), nil
}

// integrityCheck is the post-condition: after rewrites, no edge or mention may
// still reference a loser id.
func (d *Deduper) integrityCheck(ctx context.Context, rootOf map[string]string) error {
	data, err := d.repo.GetGraphData(ctx)
	if err != nil {
		return fmt.Errorf("dedupe: integrity check reload: %w", err)
	}
	for _, e := range data.Edges {
		if _, isLoser := rootOf[e.SourceNodeID]; isLoser {
			return fmt.Errorf("dedupe: integrity violation: edge %s still references loser %s", e.ID, e.SourceNodeID)
		}
		if _, isLoser := rootOf[e.TargetNodeID]; isLoser {
			return fmt.Errorf("dedupe: integrity violation: edge %s still references loser %s", e.ID, e.TargetNodeID)
		}
	}
	for loser := range rootOf {
		count, err := d.repo.MentionCount(ctx, loser)
		if err != nil {
			return fmt.Errorf("dedupe: integrity check mentions for %s: %w", loser, err)
		}
		if count > 0 {
			return fmt.Errorf("dedupe: integrity violation: mentions still reference loser %s", loser)
		}
	}
	return nil
}

func nodesFor(ids []string, byID map[string]graph.Node) []graph.Node {
	out := make([]graph.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// groupExact groups by (canonical_name, type).
func groupExact(nodes []graph.Node) [][]graph.Node {
	type key struct {
		name string
		typ  graph.NodeType
	}
	groups := make(map[key][]graph.Node)
	var order []key
	for _, n := range nodes {
		k := key{n.CanonicalName, n.Type}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], n)
	}
	var out [][]graph.Node
	for _, k := range order {
		if len(groups[k]) > 1 {
			out = append(out, groups[k])
		}
	}
	return out
}

// findSimilarPairs finds near-duplicates: within one type, for names longer
// than minSimilarNameLen, walk canonicalized-sorted order and pair adjacent
// items whose Levenshtein distance is exactly 1, unless the differing
// character falls within the first 3 positions (guards "3DGS" vs "4DGS").
func findSimilarPairs(nodes []graph.Node) [][2]string {
	var eligible []graph.Node
	for _, n := range nodes {
		if len(n.CanonicalName) > minSimilarNameLen {
			eligible = append(eligible, n)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CanonicalName < eligible[j].CanonicalName })

	var pairs [][2]string
	for i := 1; i < len(eligible); i++ {
		a, b := eligible[i-1], eligible[i]
		if levenshtein(a.CanonicalName, b.CanonicalName) != 1 {
			continue
		}
		if firstDiffIndex(strings.ToLower(a.CanonicalName), strings.ToLower(b.CanonicalName)) < 3 {
			continue
		}
		pairs = append(pairs, [2]string{a.ID, b.ID})
	}
	return pairs
}

// selectWinner orders a cluster: highest adjusted confidence, then
// highest original confidence, then lowest id.
func selectWinner(members []graph.Node) graph.Node {
	winner := members[0]
	for _, m := range members[1:] {
		switch {
		case m.AdjustedConfidence > winner.AdjustedConfidence:
			winner = m
		case m.AdjustedConfidence < winner.AdjustedConfidence:
			continue
		case m.OriginalConfidence > winner.OriginalConfidence:
			winner = m
		case m.OriginalConfidence < winner.OriginalConfidence:
			continue
		case m.ID < winner.ID:
			winner = m
		}
	}
	return winner
}
