package cmd

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"shopentry/internal/config"
	"shopentry/internal/install"
	"shopentry/internal/lifecycle"
	"shopentry/internal/runtime"
	"shopentry/internal/store"
	"shopentry/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the startup lifecycle and exec the web server",
	Long:  `Executes the full container startup lifecycle, then replaces itself with the web server process.`,
	Run:   runEntrypoint,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runEntrypoint(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		if errors.Is(err, config.ErrUnsupportedVersion) {
			os.Exit(lifecycle.ExitInterpreter)
		}
		os.Exit(lifecycle.ExitGeneric)
	}

	ctx := context.Background()

	var st *store.Store
	var waiter lifecycle.StoreWaiter
	var locker install.Locker
	if cfg.StoreConfigured() {
		st, err = store.New(cfg.Store)
		if err != nil {
			logger.Error("unable to initialize store client", "error", err)
			os.Exit(lifecycle.ExitStore)
		}
		waiter = st
		locker = st
	}

	installer := install.New(cfg, install.NewConsole(cfg), locker)
	orch := lifecycle.New(cfg, waiter, runtime.New(cfg), installer, spawnMonitor)

	if err := orch.Run(ctx); err != nil {
		var exitErr *lifecycle.ExitError
		if errors.As(err, &exitErr) {
			logger.Error("startup failed", "phase", exitErr.Phase, "error", exitErr.Err)
			os.Exit(exitErr.Code)
		}
		logger.Error("startup failed", "error", err)
		os.Exit(lifecycle.ExitGeneric)
	}

	if st != nil {
		st.Close()
	}

	execServer(cfg)
}

// spawnMonitor detaches the post-healthy monitor so it survives the exec of
// the server process below.
func spawnMonitor() error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	c := exec.Command(self, "monitor")
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Start(); err != nil {
		return err
	}
	return c.Process.Release()
}

// execServer replaces the entrypoint with the variant's foreground server so
// the container's main process is the web server itself.
func execServer(cfg *config.Config) {
	argv := runtime.ServerCommand(cfg.Runtime.WebServer)
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		logger.Fatal("server binary not found", "binary", argv[0])
	}
	logger.Info("handing off to server process", "command", strings.Join(argv, " "))
	if err := syscall.Exec(bin, argv, os.Environ()); err != nil {
		logger.Fatal("unable to exec server process", "error", err)
	}
}
