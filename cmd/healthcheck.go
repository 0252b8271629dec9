package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shopentry/internal/config"
	"shopentry/internal/health"
	"shopentry/internal/store"
	"shopentry/pkg/logger"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Composite health probe invoked by the container platform",
	Long: `Checks server process liveness, store connectivity and an HTTP
self-request. Exit 0 means healthy. On success a marker file is written for
the post-healthy monitor; on failure it is removed.`,
	Run: runHealthcheck,
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
}

func runHealthcheck(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var storePing func(ctx context.Context) error
	if cfg.StoreConfigured() {
		st, err := store.New(cfg.Store)
		if err != nil {
			logger.Error("unhealthy", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		storePing = st.Ping
	}

	probe := health.NewProbe(cfg, storePing)
	if err := probe.Run(ctx); err != nil {
		logger.Error("unhealthy", "error", err)
		os.Exit(1)
	}
	logger.Info("healthy")
}
