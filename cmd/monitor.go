package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"shopentry/internal/config"
	"shopentry/internal/monitor"
	"shopentry/pkg/logger"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Wait for the container to become healthy, then run post-healthy hooks",
	Long: `Started in the background by the entrypoint. Polls the health probe
marker up to a configured maximum wait, then executes the post-healthy hook
batch once and writes a completion marker.`,
	Run: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := monitor.New(cfg).Run(context.Background()); err != nil {
		logger.Error("post-healthy monitor failed", "error", err)
		os.Exit(1)
	}
}
