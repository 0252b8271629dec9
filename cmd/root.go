package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"shopentry/pkg/logger"
)

var (
	BuildVersion = "dev"
	BuildCommit  = "none"
	BuildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "shopentry",
	Short: "Container entrypoint lifecycle orchestrator for the shop image",
	Long: `Shopentry drives the startup lifecycle of the e-commerce container:
runtime configuration, store readiness, one-time installation, lifecycle
hooks, and the composite health probe the platform polls.`,
}

func Execute(version, commit, date string) {
	if version != "" {
		BuildVersion = version
	}
	if commit != "" {
		BuildCommit = commit
	}
	if date != "" {
		BuildDate = date
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
}

func initEnv() {
	// Optional .env, mainly for local development images.
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}
	logger.GetLogger().ConfigureFromEnv()
}
