package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"shopentry/pkg/logger"
)

// Identity is the credential a hook script runs under. A nil Identity
// inherits the orchestrator's own identity (root during pre-init).
type Identity struct {
	UID uint32
	GID uint32
}

// Action is a single hook invocation. Scripts discovered on disk and
// in-process closures share the same runner and failure policy.
type Action interface {
	Name() string
	Run(ctx context.Context, env []string) error
}

// ScriptAction executes an external hook script with the full current
// environment inherited.
type ScriptAction struct {
	Path string
	As   *Identity
}

func (a *ScriptAction) Name() string {
	return filepath.Base(a.Path)
}

func (a *ScriptAction) Run(ctx context.Context, env []string) error {
	cmd := exec.CommandContext(ctx, a.Path)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Identity switching needs root; without it the script inherits the
	// orchestrator's identity.
	if a.As != nil && os.Geteuid() == 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: a.As.UID, Gid: a.As.GID},
		}
	}
	return cmd.Run()
}

// FuncAction wraps an in-process closure as a hook action.
type FuncAction struct {
	ActionName string
	Fn         func(ctx context.Context, env []string) error
}

func (a *FuncAction) Name() string {
	return a.ActionName
}

func (a *FuncAction) Run(ctx context.Context, env []string) error {
	return a.Fn(ctx, env)
}

// ScriptError reports a failed hook together with its exit code so the
// orchestrator can surface both in the log before aborting.
type ScriptError struct {
	Script   string
	ExitCode int
	Err      error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("hook %s failed with exit code %d", e.Script, e.ExitCode)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Policy decides what a non-zero hook exit does to the batch.
type Policy int

const (
	// FailFast aborts the batch on the first failing hook.
	FailFast Policy = iota
	// ContinueOnError logs the failure and moves on to the next hook.
	ContinueOnError
)

// Discover lists the executable .sh entries of dir in lexicographic order.
// A missing directory is not an error; it simply yields no actions.
func Discover(dir string, as *Identity) ([]Action, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to read hook directory %s: %w", dir, err)
	}
	return fromEntries(dir, entries, as), nil
}

func fromEntries(dir string, entries []os.DirEntry, as *Identity) []Action {
	var actions []Action
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sh") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logger.Warn("unable to stat hook script, skipping",
				"script", entry.Name(), "error", err)
			continue
		}
		if info.Mode()&0111 == 0 {
			continue
		}
		actions = append(actions, &ScriptAction{
			Path: filepath.Join(dir, entry.Name()),
			As:   as,
		})
	}

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Name() < actions[j].Name()
	})
	return actions
}

// Run executes actions sequentially under the given policy. Execution order
// follows the slice, which Discover guarantees to be lexicographic by
// filename so numeric prefixes (10-, 20-, ...) control sequencing.
func Run(ctx context.Context, phase string, actions []Action, env []string, policy Policy) error {
	if len(actions) == 0 {
		logger.Info("no hook scripts found", "phase", phase)
		return nil
	}

	for _, action := range actions {
		logger.Info("executing hook", "phase", phase, "script", action.Name())
		err := action.Run(ctx, env)
		if err == nil {
			logger.Info("hook finished", "phase", phase, "script", action.Name())
			continue
		}

		scriptErr := &ScriptError{
			Script:   action.Name(),
			ExitCode: exitCode(err),
			Err:      err,
		}
		if policy == ContinueOnError {
			logger.Warn("hook failed, continuing",
				"phase", phase, "script", scriptErr.Script, "exit_code", scriptErr.ExitCode)
			continue
		}
		logger.Error("hook failed",
			"phase", phase, "script", scriptErr.Script, "exit_code", scriptErr.ExitCode)
		return scriptErr
	}
	return nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
