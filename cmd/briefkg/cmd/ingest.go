package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/briefkg/internal/config"
	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/logger"
	"github.com/rcliao/briefkg/internal/observability"
	"github.com/rcliao/briefkg/internal/pipeline"
	"github.com/rcliao/briefkg/internal/reasoning"
	"github.com/rcliao/briefkg/internal/selector"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <seed-title>",
	Short: "Select a corpus around a seed paper and ingest it into the graph",
	Long: `Resolve the seed, retrieve candidates from every configured source,
gate them semantically, ingest each selected paper through the extraction
pipeline, and run a reasoning batch over the affected subgraph.

Example:
  briefkg ingest "3D Gaussian Splatting"
  briefkg ingest --keywords keywords.yaml --force "3D Gaussian Splatting"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seedTitle := args[0]
		force, _ := cmd.Flags().GetBool("force")
		keywordsFile, _ := cmd.Flags().GetString("keywords")

		shutdownTracing := observability.InitTracing("briefkg")
		defer func() { _ = shutdownTracing(cmd.Context()) }()
		metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
		requests := observability.NewRequestLogger()

		ctx, span := observability.StartSpan(cmd.Context(), "ingest", "")
		defer span.End()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.repoStop()

		if keywordsFile != "" {
			kws, err := loadKeywords(keywordsFile)
			if err != nil {
				return err
			}
			rt.selector = rebuildSelectorWithKeywords(rt, kws)
		}

		fmt.Println(headerStyle.Render("Selecting corpus"))
		started := time.Now()
		result, err := rt.selector.Select(ctx, seedTitle, nil)
		requests.Request("selector", "select", time.Since(started), err)
		if err != nil {
			return err
		}
		printRetrievalStats(result.Stats)

		mode := pipeline.ModeIncremental
		if force || config.ForceReingest() {
			mode = pipeline.ModeForce
		}
		p := pipeline.New(pipeline.Deps{
			Sections:      rt.agents,
			Entities:      rt.agents,
			Relationships: rt.agents,
			Resolver:      rt.resolver,
			Repo:          rt.repo,
			Logger:        logger.Get(),
		}, mode)

		inputs := make([]pipeline.PaperInput, 0, len(result.Selected))
		for _, s := range result.Selected {
			inputs = append(inputs, pipeline.PaperInput{Paper: graph.Paper{
				ID:          paperID(s),
				Title:       s.Candidate.Title,
				Abstract:    s.Candidate.Abstract,
				Year:        s.Candidate.Year,
				ExternalIDs: s.Candidate.ExternalIDs,
			}})
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("Ingesting %d papers", len(inputs))))
		summary := p.Run(ctx, inputs)
		printRunSummary(summary)
		for _, r := range summary.Succeeded {
			if !r.Skipped {
				metrics.PapersIngested.Inc()
			}
		}
		for _, f := range summary.Failed {
			metrics.PapersFailed.WithLabelValues(f.Stage).Inc()
		}

		succeeded := summary.SucceededPaperIDs()
		if len(succeeded) == 0 {
			fmt.Println(failStyle.Render("no papers ingested, skipping reasoning"))
			if len(summary.Failed) > 0 {
				os.Exit(1)
			}
			return nil
		}

		engine := reasoning.New(rt.repo, logger.Get())
		res, err := engine.RunBatch(ctx, succeeded)
		if err != nil {
			return err
		}
		metrics.InsightsEmitted.Add(float64(res.InsightsCount))
		fmt.Println(successStyle.Render(fmt.Sprintf("reasoning emitted %d insights", res.InsightsCount)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Bool("force", false, "re-ingest papers already stored (FORCE_REINGEST)")
	ingestCmd.Flags().String("keywords", "", "YAML file with additional keyword queries for retrieval")
}

// keywordsFile is the YAML shape the --keywords flag loads:
//
//	keywords:
//	  - gaussian splatting
//	  - radiance fields
type keywordsFile struct {
	Keywords []string `yaml:"keywords"`
}

func loadKeywords(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords file: %w", err)
	}
	var kf keywordsFile
	if err := yaml.Unmarshal(b, &kf); err != nil {
		return nil, fmt.Errorf("parse keywords file: %w", err)
	}
	return kf.Keywords, nil
}

func rebuildSelectorWithKeywords(rt *runtime, keywords []string) *selector.Selector {
	cfg := rt.cfg.Selector
	return selectorWith(rt, selector.Config{
		Threshold:            cfg.SimilarityThreshold,
		MaxCandidatesToEmbed: cfg.MaxCandidatesToEmbed,
		MaxSelected:          cfg.MaxSelectedPapers,
		KeywordQueries:       append(append([]string(nil), cfg.KeywordQueries...), keywords...),
	})
}

func paperID(s selector.Selected) string {
	if s.Candidate.SourceID != "" {
		return s.Candidate.SourceID
	}
	return "title:" + s.Candidate.Title
}

func printRetrievalStats(stats selector.RetrievalStats) {
	names := make([]string, 0, len(stats.BySource))
	for name := range stats.BySource {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		line := fmt.Sprintf("  %-40s %d", name, stats.BySource[name])
		if msg, failed := stats.Errors[name]; failed {
			line += "  " + failStyle.Render("("+msg+")")
		}
		fmt.Println(line)
	}
	fmt.Printf("  embedded=%d passed=%d selected=%d sim(min=%.3f median=%.3f max=%.3f)\n",
		stats.Embedded, stats.PassedCount, stats.FinalCount, stats.SimMin, stats.SimMedian, stats.SimMax)
}

func printRunSummary(summary *pipeline.RunSummary) {
	for _, r := range summary.Succeeded {
		if r.Skipped {
			fmt.Printf("  %s %s (already ingested)\n", successStyle.Render("skip"), r.PaperID)
			continue
		}
		fmt.Printf("  %s %s: %d sections, %d entities, %d edges\n",
			successStyle.Render("ok"), r.PaperID, r.Sections, r.EntitiesKept, r.EdgesKept)
	}
	for _, f := range summary.Failed {
		fmt.Printf("  %s %s: stage=%s code=%s\n", failStyle.Render("fail"), f.PaperID, f.Stage, f.Code)
	}
	fmt.Printf("%d succeeded, %d failed\n", len(summary.Succeeded), len(summary.Failed))
}
