package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shopentry/internal/config"
	"shopentry/pkg/logger"
)

// MarkerName is the installation sentinel kept on persistent storage.
// Presence means the application was already installed against the attached
// store; the orchestrator never deletes it.
const MarkerName = ".shopentry-installed"

type State int

const (
	StateNoStore State = iota
	StateUninstalled
	StateInstalled
)

func (s State) String() string {
	switch s {
	case StateNoStore:
		return "no-store"
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	}
	return "unknown"
}

// Locker guards the one-time installation against concurrent fresh starts
// of multiple instances sharing one store.
type Locker interface {
	AcquireInstallLock(ctx context.Context, timeout time.Duration) (func(), error)
}

// Installer runs the installation state machine. Every step past state
// detection is best effort: the application continues degraded instead of
// blocking container startup.
type Installer struct {
	cfg     *config.Config
	console Console
	locker  Locker

	markerPath string
	configPath string
}

func New(cfg *config.Config, console Console, locker Locker) *Installer {
	return &Installer{
		cfg:        cfg,
		console:    console,
		locker:     locker,
		markerPath: filepath.Join(cfg.Runtime.DataDir, MarkerName),
		configPath: filepath.Join(cfg.App.ShopRoot, "config", "shopentry.yaml"),
	}
}

// DetectState resolves the current installation state from the store
// configuration and the persisted marker.
func (i *Installer) DetectState() State {
	if !i.cfg.StoreConfigured() {
		return StateNoStore
	}
	if _, err := os.Stat(i.markerPath); err == nil {
		return StateInstalled
	}
	return StateUninstalled
}

func (i *Installer) Run(ctx context.Context) error {
	state := i.DetectState()
	if state == StateNoStore {
		logger.Info("no store configured, skipping installation")
		return nil
	}

	logger.Info("installation state resolved", "state", state.String())
	switch state {
	case StateUninstalled:
		i.firstInstall(ctx)
	case StateInstalled:
		i.migrate(ctx)
	}

	i.processPlugins(ctx)
	return nil
}

// firstInstall transitions UNINSTALLED to INSTALLED. The install procedure
// uses drop-and-recreate semantics: a schema that survived a container
// recreation without its marker is intentionally rebuilt.
func (i *Installer) firstInstall(ctx context.Context) {
	if err := writeAppConfig(i.cfg, i.configPath); err != nil {
		logger.Warn("unable to write app config, continuing", "error", err)
	}

	if i.locker != nil {
		release, err := i.locker.AcquireInstallLock(ctx, time.Minute)
		if err != nil {
			logger.Warn("proceeding without install lock", "error", err)
		} else {
			defer release()
		}
	}

	if err := i.console.Install(ctx); err != nil {
		logger.Warn("installation failed, application will run degraded", "error", err)
		return
	}

	err := i.console.CreateAdmin(ctx,
		i.cfg.App.AdminUser, i.cfg.App.AdminPassword, i.cfg.App.AdminEmail)
	if err != nil {
		logger.Warn("admin account creation failed (may already exist)",
			"user", i.cfg.App.AdminUser, "error", err)
	}

	if i.cfg.App.InstallDemoData {
		if err := i.console.SeedDemoData(ctx); err != nil {
			logger.Warn("demo data seeding failed, continuing", "error", err)
		}
	}

	if err := i.writeMarker(); err != nil {
		logger.Warn("unable to write installation marker", "error", err)
	}

	if err := i.console.ClearCache(ctx); err != nil {
		logger.Warn("cache clear failed", "error", err)
	}

	logger.Info("first-time installation finished")
}

// migrate is the idempotent INSTALLED re-entry path on every subsequent
// container start. It never repeats admin creation or demo seeding.
func (i *Installer) migrate(ctx context.Context) {
	if err := i.console.Migrate(ctx); err != nil {
		logger.Warn("migration finished with errors (may be a no-op)", "error", err)
	}
	if err := i.console.ClearCache(ctx); err != nil {
		logger.Warn("cache clear failed", "error", err)
	}
	logger.Info("migrations finished")
}

func (i *Installer) processPlugins(ctx context.Context) {
	plugins := i.cfg.App.Plugins
	if len(plugins) == 0 {
		return
	}

	if err := i.console.RefreshPlugins(ctx); err != nil {
		logger.Warn("plugin registry refresh failed", "error", err)
	}

	for _, name := range plugins {
		if err := i.console.InstallPlugin(ctx, name); err != nil {
			logger.Warn("plugin installation failed", "plugin", name, "error", err)
			continue
		}
		logger.Info("plugin installed", "plugin", name)
	}

	if err := i.console.ClearCache(ctx); err != nil {
		logger.Warn("cache clear failed", "error", err)
	}
}

func (i *Installer) writeMarker() error {
	if err := os.MkdirAll(filepath.Dir(i.markerPath), 0775); err != nil {
		return err
	}
	content := fmt.Sprintf("installed %s\n", time.Now().Format(time.RFC3339))
	return os.WriteFile(i.markerPath, []byte(content), 0644)
}
