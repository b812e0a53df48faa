package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/briefkg/internal/dedupe"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Merge duplicate nodes across the full graph",
	Long: `Run the batch deduplication pass: exact and near-duplicate node
groups are merged into a single winner, edges and mentions are rewritten,
and losers deleted. With --dry-run, only the merge map is written.

Example:
  briefkg dedupe --dry-run --merge-map merges.json
  briefkg dedupe`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		mapPath, _ := cmd.Flags().GetString("merge-map")

		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.repoStop()

		d := dedupe.New(rt.repo)
		result, err := d.Run(cmd.Context(), dryRun)
		if err != nil {
			// Any error aborts the batch with a non-zero exit. A violation
			// found while planning leaves the graph untouched; one found by
			// the post-rewrite integrity check leaves the edge and mention
			// rewrites already applied, since they are not rolled back.
			fmt.Fprintln(os.Stderr, failStyle.Render(err.Error()))
			os.Exit(1)
		}

		if mapPath != "" {
			b, err := json.MarshalIndent(result.MergeMap, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(mapPath, b, 0o644); err != nil {
				return fmt.Errorf("write merge map: %w", err)
			}
			fmt.Printf("merge map written to %s\n", mapPath)
		}

		if dryRun {
			fmt.Println(headerStyle.Render(fmt.Sprintf("dry run: %d merges planned", len(result.MergeMap.Merges))))
			return nil
		}
		fmt.Println(successStyle.Render(fmt.Sprintf(
			"%d nodes merged, %d edges rewritten, %d duplicate edges removed",
			result.NodesDeleted, result.EdgesRewritten, result.EdgesDeduped)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
	dedupeCmd.Flags().Bool("dry-run", false, "compute the merge map without mutating the graph")
	dedupeCmd.Flags().String("merge-map", "", "write the merge map JSON to this path")
}
