package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"shopentry/internal/command"
	"shopentry/internal/config"
	"shopentry/pkg/logger"
)

// ErrInterpreterMissing marks a supported-but-absent PHP binary. Like an
// unsupported version value, it aborts startup with the interpreter exit code.
var ErrInterpreterMissing = errors.New("PHP interpreter binary not found")

// Configurator applies the requested runtime variant settings before any
// application code runs: interpreter switch, web-server rewiring, data-dir
// ownership, TLS, xdebug, and scalar tunables.
type Configurator struct {
	cfg  *config.Config
	root string
	exec command.Executor

	lookPath  func(file string) (string, error)
	statOwner func(path string) (int, int, error)
	chown     func(path string, uid, gid int) error
}

func New(cfg *config.Config) *Configurator {
	return &Configurator{
		cfg:       cfg,
		root:      "/",
		exec:      command.NewRunner(),
		lookPath:  exec.LookPath,
		statOwner: statOwner,
		chown:     os.Chown,
	}
}

func (c *Configurator) path(parts ...string) string {
	return filepath.Join(append([]string{c.root}, parts...)...)
}

func (c *Configurator) Apply(ctx context.Context) error {
	version := c.cfg.Runtime.PHPVersion

	binPath, err := c.lookPath("php" + version)
	if err != nil {
		return fmt.Errorf("%w: php%s, supported versions are: %s",
			ErrInterpreterMissing, version, strings.Join(c.cfg.Runtime.SupportedVersions, ", "))
	}
	logger.Info("using PHP version", "version", version, "binary", binPath)

	if err := c.rebindCLI(binPath); err != nil {
		return err
	}

	if err := c.adapter().Activate(ctx, version); err != nil {
		return fmt.Errorf("unable to activate %s for PHP %s: %w",
			c.cfg.Runtime.WebServer, version, err)
	}

	if err := c.normalizeDataDir(); err != nil {
		return err
	}

	if version != config.DefaultPHPVersion {
		c.reinstallDependencies(ctx, version)
	}

	if c.cfg.TLS.Enabled {
		if err := c.configureTLS(ctx); err != nil {
			return err
		}
	}

	c.configureXdebug()

	if err := c.writeIniOverrides(); err != nil {
		return err
	}

	return nil
}

// rebindCLI points the php alias at the selected interpreter so CLI
// invocations (console commands, hooks) use the same version as the server.
func (c *Configurator) rebindCLI(binPath string) error {
	alias := c.path("usr/bin/php")
	if err := os.MkdirAll(filepath.Dir(alias), 0755); err != nil {
		return fmt.Errorf("unable to prepare alias directory: %w", err)
	}
	if err := os.Remove(alias); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove existing php alias: %w", err)
	}
	if err := os.Symlink(binPath, alias); err != nil {
		return fmt.Errorf("unable to rebind php alias: %w", err)
	}
	logger.Debug("rebound php CLI alias", "alias", alias, "target", binPath)
	return nil
}

// normalizeDataDir re-chowns the runtime-writable data directory when a
// fresh bind mount left it owned by the wrong identity. No-op on repeat runs.
func (c *Configurator) normalizeDataDir() error {
	dir := c.cfg.Runtime.DataDir
	uid := c.cfg.Runtime.ServiceUID
	gid := c.cfg.Runtime.ServiceGID

	if err := os.MkdirAll(dir, 0775); err != nil {
		return fmt.Errorf("unable to create data dir %s: %w", dir, err)
	}

	curUID, curGID, err := c.statOwner(dir)
	if err != nil {
		return fmt.Errorf("unable to stat data dir %s: %w", dir, err)
	}
	if curUID == uid && curGID == gid {
		logger.Debug("data dir ownership already correct", "dir", dir)
		return nil
	}

	logger.Info("normalizing data dir ownership", "dir", dir, "uid", uid, "gid", gid)
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return c.chown(p, uid, gid)
	})
}

// reinstallDependencies reruns the dependency install for a non-default
// interpreter version. Best effort: a failure degrades, never aborts.
func (c *Configurator) reinstallDependencies(ctx context.Context, version string) {
	logger.Info("reinstalling dependencies for non-default PHP version",
		"version", version, "default", config.DefaultPHPVersion)
	err := c.exec.Run(ctx, "composer", "install",
		"--no-interaction", "--working-dir", c.cfg.App.ShopRoot)
	if err != nil {
		logger.Warn("dependency reinstall failed, continuing", "error", err)
	}
}

// phpConfDirs lists every SAPI conf.d directory relevant to the active
// variant for the given version.
func (c *Configurator) phpConfDirs(version string) []string {
	sapis := []string{"cli"}
	if c.cfg.Runtime.WebServer == "nginx" {
		sapis = append(sapis, "fpm")
	} else {
		sapis = append(sapis, "apache2")
	}

	dirs := make([]string, 0, len(sapis))
	for _, sapi := range sapis {
		dirs = append(dirs, c.path("etc/php", version, sapi, "conf.d"))
	}
	return dirs
}

func (c *Configurator) renderTemplate(name string, data any, dest string, perm os.FileMode) error {
	var buf bytes.Buffer
	if err := configTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("unable to render %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("unable to create %s: %w", filepath.Dir(dest), err)
	}
	if err := os.WriteFile(dest, buf.Bytes(), perm); err != nil {
		return fmt.Errorf("unable to write %s: %w", dest, err)
	}
	return nil
}

func statOwner(path string) (int, int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("unsupported stat result for %s", path)
	}
	return int(st.Uid), int(st.Gid), nil
}
