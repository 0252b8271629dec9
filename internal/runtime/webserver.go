package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"shopentry/pkg/logger"
)

// FPMListenAddr is the well-known address every selected FPM worker pool is
// rewritten to listen on, regardless of version.
const FPMListenAddr = "127.0.0.1:9000"

// ServerCommand returns the foreground server process for the variant. The
// entrypoint exec's it as its final act.
func ServerCommand(webServer string) []string {
	if webServer == "nginx" {
		return []string{"nginx", "-g", "daemon off;"}
	}
	return []string{"apache2-foreground"}
}

// adapter reconfigures the active web server for a single PHP version:
// every other version's module or worker is disabled first.
type adapter interface {
	Activate(ctx context.Context, version string) error
}

func (c *Configurator) adapter() adapter {
	if c.cfg.Runtime.WebServer == "nginx" {
		return &fpmAdapter{c: c}
	}
	return &apacheAdapter{c: c}
}

type apacheAdapter struct {
	c *Configurator
}

func (a *apacheAdapter) Activate(ctx context.Context, version string) error {
	for _, v := range a.c.cfg.Runtime.SupportedVersions {
		if err := a.c.exec.Run(ctx, "a2dismod", "php"+v); err != nil {
			logger.Debug("apache module not enabled", "module", "php"+v)
		}
	}
	if err := a.c.exec.Run(ctx, "a2enmod", "php"+version); err != nil {
		return fmt.Errorf("unable to enable apache module php%s: %w", version, err)
	}
	return nil
}

type fpmAdapter struct {
	c *Configurator
}

func (a *fpmAdapter) Activate(ctx context.Context, version string) error {
	for _, v := range a.c.cfg.Runtime.SupportedVersions {
		if err := a.c.exec.Run(ctx, "service", "php"+v+"-fpm", "stop"); err != nil {
			logger.Debug("fpm worker not running", "version", v)
		}
	}

	poolDir := a.c.path("etc/php", version, "fpm", "pool.d")
	if err := os.MkdirAll(poolDir, 0755); err != nil {
		return fmt.Errorf("unable to create pool dir %s: %w", poolDir, err)
	}
	override := filepath.Join(poolDir, "zz-shopentry.conf")
	content := fmt.Sprintf("[www]\nlisten = %s\n", FPMListenAddr)
	if err := os.WriteFile(override, []byte(content), 0644); err != nil {
		return fmt.Errorf("unable to write pool override: %w", err)
	}

	if err := a.c.exec.Run(ctx, "service", "php"+version+"-fpm", "start"); err != nil {
		return fmt.Errorf("unable to start php%s-fpm: %w", version, err)
	}
	return nil
}
