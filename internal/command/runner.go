package command

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Executor runs external system commands. The production implementation
// spawns real processes; tests substitute a recording fake.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// Runner executes commands with optional working directory and credential.
// A zero UID/GID pair inherits the calling process identity.
type Runner struct {
	Dir string
	UID uint32
	GID uint32
}

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if (r.UID != 0 || r.GID != 0) && os.Geteuid() == 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: r.UID, Gid: r.GID},
		}
	}
	return cmd
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) error {
	cmd := r.command(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

func (r *Runner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := r.command(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%s failed: %s", name, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("failed to execute %s: %w", name, err)
	}
	return strings.TrimSpace(string(output)), nil
}
