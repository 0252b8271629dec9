package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"shopentry/internal/config"
	"shopentry/pkg/logger"
)

// Probe computes composite readiness fresh on every invocation: process
// liveness, store reachability when configured, and an HTTP self-check.
// The platform invokes it repeatedly on its own schedule.
type Probe struct {
	cfg    *config.Config
	client *http.Client

	processAlive func() (bool, error)
	storePing    func(ctx context.Context) error
	sleep        func(d time.Duration)
}

// NewProbe builds a probe. storePing may be nil when no store endpoint is
// configured; the store check is then skipped.
func NewProbe(cfg *config.Config, storePing func(ctx context.Context) error) *Probe {
	p := &Probe{
		cfg:       cfg,
		client:    &http.Client{Timeout: 5 * time.Second},
		storePing: storePing,
		sleep:     time.Sleep,
	}
	p.processAlive = func() (bool, error) {
		return variantProcessesRunning(cfg)
	}
	return p
}

// Run performs the composite check and maintains the marker file the
// post-healthy monitor polls. The marker is last-writer-wins by design; a
// probe run racing a monitor poll costs at most one poll interval.
func (p *Probe) Run(ctx context.Context) error {
	if err := p.Check(ctx); err != nil {
		p.removeMarker()
		return err
	}
	return p.writeMarker()
}

func (p *Probe) Check(ctx context.Context) error {
	alive, err := p.processAlive()
	if err != nil {
		return fmt.Errorf("unable to inspect processes: %w", err)
	}
	if !alive {
		return fmt.Errorf("expected %s processes are not running", p.cfg.Runtime.WebServer)
	}

	if p.storePing != nil {
		if err := p.storePing(ctx); err != nil {
			return fmt.Errorf("store check failed: %w", err)
		}
	}

	return p.httpCheck(ctx)
}

// httpCheck requests the application root, retrying a small fixed number of
// times with short backoff. Any status in [200,400) passes.
func (p *Probe) httpCheck(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Health.HTTPAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Health.URL, nil)
		if err != nil {
			return fmt.Errorf("invalid health URL: %w", err)
		}
		resp, err := p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 400 {
				return nil
			}
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		logger.Debug("http self-check failed", "attempt", attempt, "error", lastErr)
		if attempt < p.cfg.Health.HTTPAttempts {
			p.sleep(p.cfg.Health.HTTPBackoff)
		}
	}
	return fmt.Errorf("http self-check failed after %d attempts: %w",
		p.cfg.Health.HTTPAttempts, lastErr)
}

func (p *Probe) writeMarker() error {
	content := fmt.Sprintf("healthy %s\n", time.Now().Format(time.RFC3339))
	if err := os.WriteFile(p.cfg.Health.MarkerFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("unable to write health marker: %w", err)
	}
	return nil
}

func (p *Probe) removeMarker() {
	if err := os.Remove(p.cfg.Health.MarkerFile); err != nil && !os.IsNotExist(err) {
		logger.Warn("unable to remove health marker", "error", err)
	}
}

// variantProcessesRunning verifies the expected server processes for the
// active variant: apache2 alone, or nginx together with a php-fpm worker.
func variantProcessesRunning(cfg *config.Config) (bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return false, err
	}

	names := make(map[string]bool, len(procs))
	fpmRunning := false
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		names[name] = true
		if strings.HasPrefix(name, "php-fpm") {
			fpmRunning = true
		}
	}

	if cfg.Runtime.WebServer == "nginx" {
		return names["nginx"] && fpmRunning, nil
	}
	return names["apache2"], nil
}
