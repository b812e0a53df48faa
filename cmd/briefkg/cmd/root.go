package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rcliao/briefkg/internal/agent"
	"github.com/rcliao/briefkg/internal/cache"
	"github.com/rcliao/briefkg/internal/config"
	"github.com/rcliao/briefkg/internal/embedclient"
	embedgemini "github.com/rcliao/briefkg/internal/embedprovider/gemini"
	"github.com/rcliao/briefkg/internal/limiter"
	llmgemini "github.com/rcliao/briefkg/internal/llmprovider/gemini"
	"github.com/rcliao/briefkg/internal/persistence"
	"github.com/rcliao/briefkg/internal/persistence/postgres"
	"github.com/rcliao/briefkg/internal/pipeline"
	"github.com/rcliao/briefkg/internal/resolver"
	"github.com/rcliao/briefkg/internal/selector"
	"github.com/rcliao/briefkg/internal/sources"
	"github.com/rcliao/briefkg/internal/sources/arxiv"
	"github.com/rcliao/briefkg/internal/sources/semanticscholar"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "briefkg",
	Short: "briefkg ingests academic papers into an evidence-bearing knowledge graph",
	Long: `briefkg selects a corpus around a seed paper, extracts entities and
relationships with LLM-backed agents, resolves and deduplicates them into a
knowledge graph, and derives higher-order insights over the result.`,
}

// Execute runs the root command; called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.briefkg.yaml)")
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// runtime bundles everything a command needs, wired once per invocation.
type runtime struct {
	cfg      *config.Config
	limiter  *limiter.Limiter
	repo     persistence.Repository
	repoStop func()
	embedder *embedclient.Client
	agents   *pipeline.Agents
	resolver *resolver.Resolver
	selector *selector.Selector
	biblio   []sources.BibliographicSource
	fulltext []sources.FulltextSource
}

// selectorWith rebuilds the selector over the runtime's sources with an
// adjusted configuration (e.g. extra keyword queries).
func selectorWith(rt *runtime, cfg selector.Config) *selector.Selector {
	return selector.New(rt.biblio, rt.fulltext, rt.embedder, rt.limiter, cfg)
}

func lanes(c config.Concurrency) map[string]limiter.LaneConfig {
	return map[string]limiter.LaneConfig{
		"llm":                  {MaxConcurrent: c.LLM.MaxConcurrent, MinSpacingMS: c.LLM.MinSpacingMS},
		"embed":                {MaxConcurrent: c.Embed.MaxConcurrent, MinSpacingMS: c.Embed.MinSpacingMS},
		"source_bibliographic": {MaxConcurrent: c.SourceBibliographic.MaxConcurrent, MinSpacingMS: c.SourceBibliographic.MinSpacingMS},
		"source_fulltext":      {MaxConcurrent: c.SourceFulltext.MaxConcurrent, MinSpacingMS: c.SourceFulltext.MinSpacingMS},
	}
}

// buildRuntime wires the full dependency graph from configuration.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if cfg.Database.ConnectionString == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set; briefkg needs a Postgres with pgvector")
	}
	repo, err := postgres.New(ctx, cfg.Database.ConnectionString, int32(cfg.Database.MaxConnections))
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}

	lim := limiter.New(lanes(cfg.Concurrency))

	agentStore, err := cache.NewFileStore(filepath.Join(cfg.Cache.RootDir, "agent_cache"))
	if err != nil {
		repo.Close()
		return nil, err
	}
	agentCache := cache.NewAgentCache(agentStore)
	derived := cache.NewDerivedCache(filepath.Join(cfg.Cache.RootDir, "derived"))

	llmProv, err := llmgemini.New(ctx, cfg.LLM.APIKey)
	if err != nil {
		repo.Close()
		return nil, err
	}
	embedProv, err := embedgemini.New(ctx, cfg.Embedding.APIKey, cfg.Embedding.Dimensions)
	if err != nil {
		repo.Close()
		return nil, err
	}

	embedder := embedclient.New(embedProv, agentCache, lim, cfg.Embedding.Model, cfg.Concurrency.EmbedBatchSize)
	runner := agent.New(llmProv, agentCache, lim, "gemini")

	caps := pipeline.Caps{
		MaxSections:        cfg.Agent.MaxSectionsPerPaper,
		MaxSectionChars:    cfg.Agent.MaxSectionChars,
		MaxEntities:        cfg.Agent.MaxEntitiesPerPaper,
		MaxEntitiesPerSect: cfg.Agent.MaxEntitiesPerSection,
		MaxMetrics:         2,
		MaxEdges:           cfg.Agent.MaxEdgesPerPaper,
		MinimalModeCap:     cfg.Agent.MinimalModeCap,
	}
	agents := pipeline.NewAgents(runner, derived, cfg.LLM.Model, cfg.Agent.PromptVersion, cfg.Agent.SchemaVersion, caps)

	res := resolver.New(repo, embedder, cfg.Embedding.Model, resolver.DefaultThresholds())

	biblio := []sources.BibliographicSource{semanticscholar.New(os.Getenv("SEMANTIC_SCHOLAR_API_KEY"))}
	fulltext := []sources.FulltextSource{arxiv.New()}
	sel := selector.New(biblio, fulltext, embedder, lim, selector.Config{
		Threshold:            cfg.Selector.SimilarityThreshold,
		MaxCandidatesToEmbed: cfg.Selector.MaxCandidatesToEmbed,
		MaxSelected:          cfg.Selector.MaxSelectedPapers,
		KeywordQueries:       cfg.Selector.KeywordQueries,
	})

	return &runtime{
		cfg:      cfg,
		limiter:  lim,
		repo:     repo,
		repoStop: repo.Close,
		embedder: embedder,
		agents:   agents,
		resolver: res,
		selector: sel,
		biblio:   biblio,
		fulltext: fulltext,
	}, nil
}
