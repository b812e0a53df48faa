// Package selector implements corpus selection in two phases: Phase A
// concurrent, best-effort retrieval across every configured source, and
// Phase B authoritative, deterministic semantic gating against the seed.
package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/briefkg/internal/limiter"
	"github.com/rcliao/briefkg/internal/retry"
	"github.com/rcliao/briefkg/internal/sources"
)

// Embedder is the narrow embedding dependency the Selector needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds the selection tunables.
type Config struct {
	Threshold            float64 // τ, SEMANTIC_THRESHOLD, default 0.7
	MaxCandidatesToEmbed int     // N_E, default 500
	MaxSelected          int     // M, default 100
	KeywordQueries       []string
	Retry                retry.Policy // zero value means the default policy
	TemporalRerank       TemporalRerankConfig
}

// TemporalRerankConfig is opt-in; disabled by default.
type TemporalRerankConfig struct {
	Enabled       bool
	WeightSim     float64 // w_sim
	WeightYear    float64 // w_year
	RecencyWindow int     // years from current year where weight decays to 0.5
	CurrentYear   int     // injected so the rerank stays deterministic/testable
}

// RetrievalStats reports per-source retrieval counts plus independent
// per-source failures, alongside the gating statistics for the run.
type RetrievalStats struct {
	BySource    map[string]int
	Errors      map[string]string
	Embedded    int
	SimMin      float64
	SimMax      float64
	SimMedian   float64
	PassedCount int
	FinalCount  int
}

// Selected is one paper that passed semantic gating.
type Selected struct {
	Candidate sources.Candidate
	SimToSeed float64 // 1.0 for the seed itself
}

// Result is the Selector's output.
type Result struct {
	Seed     sources.Candidate
	Selected []Selected
	Stats    RetrievalStats
}

// Selector runs Phase A + Phase B.
type Selector struct {
	biblio   []sources.BibliographicSource
	fulltext []sources.FulltextSource
	embedder Embedder
	limiter  *limiter.Limiter
	retry    retry.Policy
	cfg      Config
}

// New builds a Selector. lim gates source calls onto the
// source_bibliographic/source_fulltext lanes; pass a limiter with those
// lanes registered.
func New(biblio []sources.BibliographicSource, fulltext []sources.FulltextSource, embedder Embedder, lim *limiter.Limiter, cfg Config) *Selector {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.7
	}
	if cfg.MaxCandidatesToEmbed == 0 {
		cfg.MaxCandidatesToEmbed = 500
	}
	if cfg.MaxSelected == 0 {
		cfg.MaxSelected = 100
	}
	pol := cfg.Retry
	if pol.Tries == 0 {
		pol = retry.DefaultPolicy()
	}
	return &Selector{
		biblio:   biblio,
		fulltext: fulltext,
		embedder: embedder,
		limiter:  lim,
		retry:    pol,
		cfg:      cfg,
	}
}

const (
	laneBibliographic = "source_bibliographic"
	laneFulltext      = "source_fulltext"
)

// Select runs the full Phase A + Phase B pipeline for one seed title.
func (s *Selector) Select(ctx context.Context, seedTitle string, seedAuthors []string) (Result, error) {
	seed, pool, stats := s.retrieve(ctx, seedTitle, seedAuthors)
	if seed.Title == "" {
		return Result{}, fmt.Errorf("selector: no source resolved seed %q", seedTitle)
	}

	deduped := dedupeCandidates(seed, pool)
	if len(deduped) > s.cfg.MaxCandidatesToEmbed {
		deduped = deduped[:s.cfg.MaxCandidatesToEmbed]
	}

	selected, err := s.gate(ctx, seed, deduped, &stats)
	if err != nil {
		return Result{}, err
	}
	stats.FinalCount = len(selected)

	return Result{Seed: seed, Selected: selected, Stats: stats}, nil
}

// sourceCall wraps one sub-query with its lane admission and retry policy,
// so each sub-query independently retries and independently fails.
func (s *Selector) sourceCall(ctx context.Context, lane string, fn func(ctx context.Context) ([]sources.Candidate, error)) ([]sources.Candidate, error) {
	return retry.DoValue(ctx, s.retry, func(ctx context.Context) ([]sources.Candidate, error) {
		return limiter.Run(ctx, s.limiter, lane, fn)
	})
}

// retrieve implements Phase A: every source is queried concurrently via an
// errgroup; each sub-query's failure is recorded in stats rather than
// aborting the others, so the final selection distribution stays invariant
// to which source happened to be down.
func (s *Selector) retrieve(ctx context.Context, seedTitle string, seedAuthors []string) (sources.Candidate, []sources.Candidate, RetrievalStats) {
	stats := RetrievalStats{BySource: make(map[string]int), Errors: make(map[string]string)}

	var mu = make(chan struct{}, 1)
	mu <- struct{}{}
	lock := func() { <-mu }
	unlock := func() { mu <- struct{}{} }

	var seed sources.Candidate
	var pool []sources.Candidate

	record := func(name string, cands []sources.Candidate, err error) {
		lock()
		defer unlock()
		if err != nil {
			stats.BySource[name] = 0
			stats.Errors[name] = err.Error()
			return
		}
		stats.BySource[name] = len(cands)
		pool = append(pool, cands...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, src := range s.biblio {
		src := src
		g.Go(func() error {
			seedCands, err := s.sourceCall(gctx, laneBibliographic, func(ctx context.Context) ([]sources.Candidate, error) {
				c, err := src.LookupSeed(ctx, seedTitle, seedAuthors)
				if err != nil {
					return nil, err
				}
				return []sources.Candidate{c}, nil
			})
			var cand sources.Candidate
			if err == nil && len(seedCands) > 0 {
				cand = seedCands[0]
				lock()
				if seed.Title == "" {
					seed = cand
				}
				unlock()
			} else if err != nil {
				lock()
				stats.Errors[src.Name()+"Seed"] = err.Error()
				unlock()
			}

			citations, citeErr := s.sourceCall(gctx, laneBibliographic, func(ctx context.Context) ([]sources.Candidate, error) {
				return src.Citations(ctx, cand.SourceID)
			})
			record(src.Name()+"Citations", citations, citeErr)

			refs, refErr := s.sourceCall(gctx, laneBibliographic, func(ctx context.Context) ([]sources.Candidate, error) {
				return src.References(ctx, cand.SourceID)
			})
			record(src.Name()+"References", refs, refErr)

			for _, kw := range s.cfg.KeywordQueries {
				kw := kw
				hits, kwErr := s.sourceCall(gctx, laneBibliographic, func(ctx context.Context) ([]sources.Candidate, error) {
					return src.KeywordQuery(ctx, kw)
				})
				record(src.Name()+"Keyword:"+kw, hits, kwErr)
			}
			return nil
		})
	}
	for _, src := range s.fulltext {
		src := src
		g.Go(func() error {
			seedCands, err := s.sourceCall(gctx, laneFulltext, func(ctx context.Context) ([]sources.Candidate, error) {
				c, err := src.LookupSeed(ctx, seedTitle, seedAuthors)
				if err != nil {
					return nil, err
				}
				return []sources.Candidate{c}, nil
			})
			if err == nil && len(seedCands) > 0 {
				lock()
				if seed.Title == "" {
					seed = seedCands[0]
				}
				unlock()
			}

			related, relErr := s.sourceCall(gctx, laneFulltext, func(ctx context.Context) ([]sources.Candidate, error) {
				return src.TitleQuery(ctx, seedTitle)
			})
			record(src.Name(), related, relErr)
			return nil
		})
	}
	_ = g.Wait() // per-source errors are recorded in stats, never aborted

	return seed, pool, stats
}

// dedupeCandidates pools candidates by SourceID (falling back to a
// normalized title), first occurrence wins, and drops the seed itself so it
// is not scored against its own embedding.
func dedupeCandidates(seed sources.Candidate, pool []sources.Candidate) []sources.Candidate {
	key := func(c sources.Candidate) string {
		if c.SourceID != "" {
			return c.SourceID
		}
		return "title:" + strings.ToLower(strings.TrimSpace(c.Title))
	}
	seen := map[string]bool{key(seed): true}
	out := make([]sources.Candidate, 0, len(pool))
	for _, c := range pool {
		k := key(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

type scoredCandidate struct {
	cand sources.Candidate
	sim  float64
}

// gate implements Phase B: seed embedding, batch embedding of candidates,
// cosine similarity ranking, threshold + cap, optional temporal rerank.
func (s *Selector) gate(ctx context.Context, seed sources.Candidate, candidates []sources.Candidate, stats *RetrievalStats) ([]Selected, error) {
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, embedText(seed))
	for _, c := range candidates {
		texts = append(texts, embedText(c))
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("selector: embed candidates: %w", err)
	}
	seedVec := vecs[0]
	stats.Embedded = len(candidates)

	sims := make([]float64, 0, len(candidates))
	var passing []scoredCandidate
	for i, c := range candidates {
		sim := cosineSimilarity(seedVec, vecs[i+1])
		sims = append(sims, sim)
		if sim >= s.cfg.Threshold {
			passing = append(passing, scoredCandidate{cand: c, sim: sim})
		}
	}
	fillSimStats(stats, sims)
	stats.PassedCount = len(passing)

	if s.cfg.TemporalRerank.Enabled {
		rerankTemporal(passing, s.cfg.TemporalRerank)
	} else {
		sort.SliceStable(passing, func(i, j int) bool {
			if passing[i].sim != passing[j].sim {
				return passing[i].sim > passing[j].sim
			}
			return passing[i].cand.SourceID < passing[j].cand.SourceID
		})
	}

	if max := s.cfg.MaxSelected; max > 0 && len(passing) > max-1 { // one slot is the seed's
		passing = passing[:max-1]
	}

	out := make([]Selected, 0, len(passing)+1)
	out = append(out, Selected{Candidate: seed, SimToSeed: 1.0})
	for _, p := range passing {
		out = append(out, Selected{Candidate: p.cand, SimToSeed: p.sim})
	}
	return out, nil
}

func fillSimStats(stats *RetrievalStats, sims []float64) {
	if len(sims) == 0 {
		return
	}
	sorted := append([]float64(nil), sims...)
	sort.Float64s(sorted)
	stats.SimMin = sorted[0]
	stats.SimMax = sorted[len(sorted)-1]
	stats.SimMedian = sorted[len(sorted)/2]
}

func embedText(c sources.Candidate) string {
	if c.Abstract == "" {
		return c.Title
	}
	return c.Title + ": " + c.Abstract
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rerankTemporal reranks the passing set by w_sim*similarity +
// w_year*year_weight(year), tie-broken by higher similarity then
// lexicographic stable id.
func rerankTemporal(passing []scoredCandidate, cfg TemporalRerankConfig) {
	score := func(p scoredCandidate) float64 {
		return cfg.WeightSim*p.sim + cfg.WeightYear*yearWeight(p.cand.Year, cfg.CurrentYear, cfg.RecencyWindow)
	}
	sort.SliceStable(passing, func(i, j int) bool {
		si, sj := score(passing[i]), score(passing[j])
		if si != sj {
			return si > sj
		}
		if passing[i].sim != passing[j].sim {
			return passing[i].sim > passing[j].sim
		}
		return passing[i].cand.SourceID < passing[j].cand.SourceID
	})
}

// yearWeight decays linearly from 1.0 at the current year to 0.5 at the
// edge of the recency window, and 0 outside it.
func yearWeight(year, currentYear, window int) float64 {
	if window <= 0 || year > currentYear {
		return 1.0
	}
	age := currentYear - year
	if age > window {
		return 0
	}
	return 1.0 - 0.5*float64(age)/float64(window)
}
