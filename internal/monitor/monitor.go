package monitor

import (
	"context"
	"fmt"
	"os"
	"time"

	"shopentry/internal/config"
	"shopentry/internal/hooks"
	"shopentry/pkg/logger"
)

// Monitor is the detached background process that waits for the container to
// become healthy and then runs the post-healthy hook batch exactly once per
// container start. It trusts the orchestrator's own probe marker, not the
// platform health API, so an operator-overridden platform check cannot
// starve it as long as the probe itself keeps being scheduled.
type Monitor struct {
	cfg *config.Config

	// discover is overridable in tests to inject in-process actions.
	discover func() ([]hooks.Action, error)
	healthy  func() bool
}

func New(cfg *config.Config) *Monitor {
	m := &Monitor{cfg: cfg}
	m.discover = func() ([]hooks.Action, error) {
		identity := &hooks.Identity{
			UID: uint32(cfg.Runtime.ServiceUID),
			GID: uint32(cfg.Runtime.ServiceGID),
		}
		return hooks.Discover(cfg.PostHealthyHookDir(), identity)
	}
	m.healthy = func() bool {
		_, err := os.Stat(cfg.Health.MarkerFile)
		return err == nil
	}
	return m
}

// Run performs the single bounded wait-then-execute-once sequence. If the
// wait expires without ever observing healthy, no hooks run and no
// completion marker is written.
func (m *Monitor) Run(ctx context.Context) error {
	maxWait := m.cfg.Hooks.PostHealthyMaxWait
	logger.Info("post-healthy monitor started", "max_wait", maxWait.String())

	if !m.waitHealthy(ctx, maxWait) {
		logger.Warn("never observed healthy state within max wait, skipping post-healthy hooks",
			"max_wait", maxWait.String())
		return nil
	}
	logger.Info("observed healthy state")

	// A discovery failure means the batch never ran, so the completion
	// marker must not appear: dependent services key off it.
	actions, err := m.discover()
	if err != nil {
		logger.Error("unable to discover post-healthy hooks", "error", err)
		return err
	}

	// Individual failures are isolated; the batch always runs to the end.
	if err := hooks.Run(ctx, "post-healthy", actions, os.Environ(), hooks.ContinueOnError); err != nil {
		logger.Warn("post-healthy batch reported an error", "error", err)
	}

	if err := m.writeCompletionMarker(); err != nil {
		return err
	}
	logger.Info("post-healthy hooks complete", "marker", m.cfg.Hooks.CompletionMarker)
	return nil
}

func (m *Monitor) waitHealthy(ctx context.Context, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(m.cfg.Hooks.PostHealthyInterval)
	defer ticker.Stop()

	for {
		if m.healthy() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// writeCompletionMarker signals external orchestration that the batch
// finished, successful or not.
func (m *Monitor) writeCompletionMarker() error {
	content := fmt.Sprintf("completed %s\n", time.Now().Format(time.RFC3339))
	if err := os.WriteFile(m.cfg.Hooks.CompletionMarker, []byte(content), 0644); err != nil {
		return fmt.Errorf("unable to write completion marker: %w", err)
	}
	return nil
}
