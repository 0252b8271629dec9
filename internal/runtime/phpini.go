package runtime

import (
	"path/filepath"

	"shopentry/pkg/logger"
)

type overrideData struct {
	MemoryLimit       string
	UploadMaxFilesize string
	PostMaxSize       string
	MaxExecutionTime  int
}

type xdebugData struct {
	Host   string
	Port   int
	IDEKey string
}

// writeIniOverrides applies the scalar runtime tunables as zz- prefixed
// fragments so they load after the base configuration in every SAPI.
func (c *Configurator) writeIniOverrides() error {
	data := overrideData{
		MemoryLimit:       c.cfg.Runtime.MemoryLimit,
		UploadMaxFilesize: c.cfg.Runtime.UploadMaxFilesize,
		PostMaxSize:       c.cfg.Runtime.PostMaxSize,
		MaxExecutionTime:  c.cfg.Runtime.MaxExecutionTime,
	}

	for _, dir := range c.phpConfDirs(c.cfg.Runtime.PHPVersion) {
		dest := filepath.Join(dir, "zz-shopentry.ini")
		if err := c.renderTemplate("overrides.ini.tmpl", data, dest, 0644); err != nil {
			return err
		}
		logger.Debug("wrote runtime tunables", "file", dest)
	}
	return nil
}

// configureXdebug writes the debug-adapter fragment into every relevant SAPI
// conf.d when enabled. Failures here degrade rather than abort startup.
func (c *Configurator) configureXdebug() {
	if !c.cfg.Xdebug.Enabled {
		logger.Info("xdebug is available but inactive", "hint", "set XDEBUG_ENABLED=true to activate")
		return
	}

	data := xdebugData{
		Host:   c.cfg.Xdebug.Host,
		Port:   c.cfg.Xdebug.Port,
		IDEKey: c.cfg.Xdebug.IDEKey,
	}

	for _, dir := range c.phpConfDirs(c.cfg.Runtime.PHPVersion) {
		dest := filepath.Join(dir, "zz-xdebug.ini")
		if err := c.renderTemplate("xdebug.ini.tmpl", data, dest, 0644); err != nil {
			logger.Warn("unable to write xdebug config, continuing", "file", dest, "error", err)
			continue
		}
	}
	logger.Info("xdebug enabled", "host", c.cfg.Xdebug.Host, "port", c.cfg.Xdebug.Port)
}
