package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/briefkg/internal/logger"
	"github.com/rcliao/briefkg/internal/reasoning"
)

var reasonCmd = &cobra.Command{
	Use:   "reason",
	Short: "Run a reasoning batch over the subgraph around given papers",
	Long: `Induce the depth-2 subgraph around the nodes the given papers touch
and emit transitive, cluster, and anomaly insights.

Example:
  briefkg reason --papers 649def34f8be52c8b66281af98ae884c09aef38b,2203.05794`,
	RunE: func(cmd *cobra.Command, args []string) error {
		papersFlag, _ := cmd.Flags().GetString("papers")
		if papersFlag == "" {
			return fmt.Errorf("--papers is required")
		}
		paperIDs := strings.Split(papersFlag, ",")

		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.repoStop()

		engine := reasoning.New(rt.repo, logger.Get())
		result, err := engine.RunBatch(cmd.Context(), paperIDs)
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%d insights", result.InsightsCount)))
		for _, in := range result.Insights {
			fmt.Printf("  [%.2f] %s: %s\n", in.Confidence, in.Type, in.ReasoningPath.Claim)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reasonCmd)
	reasonCmd.Flags().String("papers", "", "comma-separated paper ids the batch touched")
}
