package selector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/limiter"
	"github.com/rcliao/briefkg/internal/retry"
	"github.com/rcliao/briefkg/internal/sources"
)

// fakeBiblio simulates the primary bibliographic source; citationsErr makes
// the citations sub-query fail independently.
type fakeBiblio struct {
	seed         sources.Candidate
	seedErr      error
	citations    []sources.Candidate
	citationsErr error
	references   []sources.Candidate
}

func (f *fakeBiblio) Name() string { return "ss" }

func (f *fakeBiblio) LookupSeed(ctx context.Context, title string, authors []string) (sources.Candidate, error) {
	if f.seedErr != nil {
		return sources.Candidate{}, f.seedErr
	}
	return f.seed, nil
}

func (f *fakeBiblio) Citations(ctx context.Context, id string) ([]sources.Candidate, error) {
	if f.citationsErr != nil {
		return nil, f.citationsErr
	}
	return f.citations, nil
}

func (f *fakeBiblio) References(ctx context.Context, id string) ([]sources.Candidate, error) {
	return f.references, nil
}

func (f *fakeBiblio) KeywordQuery(ctx context.Context, q string) ([]sources.Candidate, error) {
	return nil, nil
}

type fakeFulltext struct {
	results []sources.Candidate
}

func (f *fakeFulltext) Name() string { return "arxiv" }

func (f *fakeFulltext) LookupSeed(ctx context.Context, title string, authors []string) (sources.Candidate, error) {
	return sources.Candidate{}, errors.New("not indexed")
}

func (f *fakeFulltext) TitleQuery(ctx context.Context, title string) ([]sources.Candidate, error) {
	return f.results, nil
}

func (f *fakeFulltext) AuthorQuery(ctx context.Context, author string) ([]sources.Candidate, error) {
	return nil, nil
}

func (f *fakeFulltext) CategoryQuery(ctx context.Context, category string) ([]sources.Candidate, error) {
	return nil, nil
}

// simEmbedder maps known texts onto vectors with a chosen cosine similarity
// to the seed's [1, 0] direction.
type simEmbedder struct {
	sims map[string]float64 // embed-text -> similarity to seed
}

func (s *simEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sim, ok := s.sims[text]
		if !ok {
			sim = 1.0 // the seed itself
		}
		out[i] = []float32{float32(sim), float32(sqrtApprox(1 - sim*sim))}
	}
	return out, nil
}

func sqrtApprox(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func cand(id, title string, year int) sources.Candidate {
	return sources.Candidate{SourceID: id, Title: title, Year: year}
}

func newTestSelector(biblio *fakeBiblio, fulltext *fakeFulltext, emb Embedder, cfg Config) *Selector {
	cfg.Retry = retry.Policy{Tries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	lim := limiter.New(map[string]limiter.LaneConfig{
		"source_bibliographic": {MaxConcurrent: 1},
		"source_fulltext":      {MaxConcurrent: 3},
	})
	return New([]sources.BibliographicSource{biblio}, []sources.FulltextSource{fulltext}, emb, lim, cfg)
}

func TestSelect_PartialSourceFailure(t *testing.T) {
	seed := cand("seed-1", "3D Gaussian Splatting", 2023)
	var pool []sources.Candidate
	sims := map[string]float64{}
	for i := 0; i < 60; i++ {
		c := cand(fmt.Sprintf("arxiv-%02d", i), fmt.Sprintf("Paper %02d", i), 2024)
		pool = append(pool, c)
		sim := 0.5
		if i < 25 {
			sim = 0.75 // 25 pass the 0.7 gate
		}
		sims[embedText(c)] = sim
	}

	biblio := &fakeBiblio{
		seed:         seed,
		citationsErr: graph.New(graph.KindTransport, "http_500", errors.New("internal error")),
	}
	fulltext := &fakeFulltext{results: pool}

	s := newTestSelector(biblio, fulltext, &simEmbedder{sims: sims}, Config{Threshold: 0.7, MaxSelected: 20})
	result, err := s.Select(context.Background(), "3D Gaussian Splatting", nil)
	require.NoError(t, err)

	assert.Equal(t, "seed-1", result.Seed.SourceID, "seed resolves despite citation failure")
	assert.Equal(t, 0, result.Stats.BySource["ssCitations"])
	assert.Contains(t, result.Stats.Errors, "ssCitations")
	assert.GreaterOrEqual(t, result.Stats.BySource["arxiv"], 1)

	require.NotEmpty(t, result.Selected)
	assert.LessOrEqual(t, len(result.Selected), 20)
	assert.Equal(t, "seed-1", result.Selected[0].Candidate.SourceID)
	for _, sel := range result.Selected[1:] {
		assert.GreaterOrEqual(t, sel.SimToSeed, 0.7)
	}
}

func TestSelect_NoSeedResolvedFails(t *testing.T) {
	biblio := &fakeBiblio{seedErr: errors.New("no match")}
	fulltext := &fakeFulltext{}
	s := newTestSelector(biblio, fulltext, &simEmbedder{sims: map[string]float64{}}, Config{})

	_, err := s.Select(context.Background(), "Unknown Paper", nil)
	require.Error(t, err)
}

func TestGate_ThresholdMonotonicity(t *testing.T) {
	seed := cand("seed", "Seed Paper", 2023)
	pool := []sources.Candidate{
		cand("a", "High", 2024), cand("b", "Mid", 2024), cand("c", "Low", 2024),
	}
	sims := map[string]float64{
		embedText(pool[0]): 0.95,
		embedText(pool[1]): 0.75,
		embedText(pool[2]): 0.55,
	}

	selectAt := func(tau float64) map[string]bool {
		s := newTestSelector(&fakeBiblio{seed: seed}, &fakeFulltext{results: pool},
			&simEmbedder{sims: sims}, Config{Threshold: tau, MaxSelected: 100})
		var stats RetrievalStats
		stats.BySource = map[string]int{}
		stats.Errors = map[string]string{}
		out, err := s.gate(context.Background(), seed, pool, &stats)
		require.NoError(t, err)
		got := make(map[string]bool)
		for _, sel := range out {
			got[sel.Candidate.SourceID] = true
		}
		return got
	}

	low := selectAt(0.6)
	high := selectAt(0.8)
	for id := range high {
		assert.True(t, low[id], "raising tau must never admit %s that the lower tau rejected", id)
	}
	assert.True(t, low["b"] && !high["b"], "0.75 passes tau=0.6 but not tau=0.8")
}

func TestDedupeCandidates_FirstOccurrenceWins(t *testing.T) {
	seed := cand("seed", "Seed", 2023)
	pool := []sources.Candidate{
		cand("x", "First", 2024),
		cand("x", "Duplicate by id", 2024),
		{Title: "No ID", Year: 2024},
		{Title: "no id", Year: 2024}, // same normalized title
		cand("seed", "The seed itself", 2023),
	}
	out := dedupeCandidates(seed, pool)
	require.Len(t, out, 2)
	assert.Equal(t, "First", out[0].Title)
	assert.Equal(t, "No ID", out[1].Title)
}

func TestYearWeight(t *testing.T) {
	assert.Equal(t, 1.0, yearWeight(2026, 2026, 5))
	assert.InDelta(t, 0.9, yearWeight(2025, 2026, 5), 1e-9)
	assert.InDelta(t, 0.6, yearWeight(2022, 2026, 5), 1e-9)
	assert.Equal(t, 0.5, yearWeight(2021, 2026, 5))
	assert.Equal(t, 0.0, yearWeight(2000, 2026, 5))
}

func TestRerankTemporal_PrefersRecentAtEqualSim(t *testing.T) {
	recent := scoredCandidate{cand: cand("r", "Recent", 2026), sim: 0.8}
	old := scoredCandidate{cand: cand("o", "Old", 2020), sim: 0.8}
	passing := []scoredCandidate{old, recent}

	rerankTemporal(passing, TemporalRerankConfig{
		Enabled: true, WeightSim: 0.7, WeightYear: 0.3, RecencyWindow: 5, CurrentYear: 2026,
	})
	assert.Equal(t, "r", passing[0].cand.SourceID, "recent paper must rank first at equal similarity")
}
