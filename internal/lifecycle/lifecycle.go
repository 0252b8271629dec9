package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"shopentry/internal/config"
	"shopentry/internal/hooks"
	"shopentry/internal/runtime"
	"shopentry/pkg/logger"
)

// Exit codes of the entrypoint process. Everything not listed here degrades
// to a warning so the container keeps running and stays debuggable.
const (
	ExitGeneric     = 1
	ExitInterpreter = 2
	ExitStore       = 3
	ExitHook        = 4
)

// ExitError carries the failing phase and the process exit code for the one
// place that is allowed to call os.Exit.
type ExitError struct {
	Code  int
	Phase string
	Err   error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("startup phase %s failed: %v", e.Phase, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// StoreWaiter blocks until the data store accepts connections and the target
// schema exists.
type StoreWaiter interface {
	WaitReady(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
}

// Configurator applies the runtime variant settings.
type Configurator interface {
	Apply(ctx context.Context) error
}

// Installer runs the installation state machine.
type Installer interface {
	Run(ctx context.Context) error
}

// Orchestrator executes the startup lifecycle top to bottom with blocking
// calls: pre-init hooks, store readiness, runtime configuration,
// installation, post-install hooks, monitor spawn.
type Orchestrator struct {
	cfg          *config.Config
	store        StoreWaiter
	runtime      Configurator
	installer    Installer
	spawnMonitor func() error

	// env feeds the hook environment; defaults to the process environment.
	env func() []string
}

// New builds an orchestrator. store may be nil when no endpoint is
// configured; spawnMonitor may be nil to disable the post-healthy monitor.
func New(cfg *config.Config, store StoreWaiter, rt Configurator, installer Installer, spawnMonitor func() error) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		store:        store,
		runtime:      rt,
		installer:    installer,
		spawnMonitor: spawnMonitor,
		env:          os.Environ,
	}
}

func (o *Orchestrator) Run(ctx context.Context) error {
	// Privileged system setup runs before anything else touches the store.
	if err := o.runHooks(ctx, "pre-init", o.cfg.PreInitHookDir(), nil); err != nil {
		return err
	}

	if o.store != nil {
		if err := o.store.WaitReady(ctx); err != nil {
			return &ExitError{Code: ExitStore, Phase: "store-wait", Err: err}
		}
		if err := o.store.EnsureSchema(ctx); err != nil {
			return &ExitError{Code: ExitStore, Phase: "store-wait", Err: err}
		}
	} else {
		logger.Info("no store endpoint configured, skipping readiness polling")
	}

	if err := o.runtime.Apply(ctx); err != nil {
		code := ExitGeneric
		if errors.Is(err, runtime.ErrInterpreterMissing) {
			code = ExitInterpreter
		}
		return &ExitError{Code: code, Phase: "runtime-config", Err: err}
	}

	// Must run to completion before any application-level hook executes.
	if err := o.installer.Run(ctx); err != nil {
		logger.Warn("installation state machine reported an error, continuing", "error", err)
	}

	serviceIdentity := &hooks.Identity{
		UID: uint32(o.cfg.Runtime.ServiceUID),
		GID: uint32(o.cfg.Runtime.ServiceGID),
	}
	if err := o.runHooks(ctx, "post-install", o.cfg.PostInstallHookDir(), serviceIdentity); err != nil {
		return err
	}

	if o.spawnMonitor != nil {
		if err := o.spawnMonitor(); err != nil {
			logger.Warn("unable to start post-healthy monitor", "error", err)
		}
	}

	logger.Info("startup complete")
	return nil
}

// runHooks executes a fatal hook phase: any non-zero exit aborts startup
// with the script name and exit code surfaced in the log.
func (o *Orchestrator) runHooks(ctx context.Context, phase, dir string, as *hooks.Identity) error {
	actions, err := hooks.Discover(dir, as)
	if err != nil {
		return &ExitError{Code: ExitGeneric, Phase: phase, Err: err}
	}
	if err := hooks.Run(ctx, phase, actions, o.env(), hooks.FailFast); err != nil {
		return &ExitError{Code: ExitHook, Phase: phase, Err: err}
	}
	return nil
}
