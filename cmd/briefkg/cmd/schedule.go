package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/rcliao/briefkg/internal/dedupe"
	"github.com/rcliao/briefkg/internal/logger"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the periodic dedupe pass on a cron schedule",
	Long: `Keep the process alive and run the batch deduplication pass on the
given cron schedule. Intended for deployments where ingestion runs
continuously and duplicates accumulate between passes.

Example:
  briefkg schedule --cron "0 3 * * *"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, _ := cmd.Flags().GetString("cron")

		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.repoStop()

		c := cron.New()
		_, err = c.AddFunc(spec, func() {
			logger.Info("scheduled dedupe starting")
			result, err := dedupe.New(rt.repo).Run(cmd.Context(), false)
			if err != nil {
				logger.Error("scheduled dedupe failed", err)
				return
			}
			logger.Info("scheduled dedupe done",
				"merged", result.NodesDeleted, "edges_rewritten", result.EdgesRewritten)
		})
		if err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", spec, err)
		}

		c.Start()
		fmt.Println(headerStyle.Render("scheduler running, ctrl-c to stop"))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		ctx := c.Stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().String("cron", "0 3 * * *", "cron schedule for the dedupe pass")
}
