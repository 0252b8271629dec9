package install

import (
	"context"

	"shopentry/internal/command"
	"shopentry/internal/config"
)

// Console is the application's own administration command surface. The
// production implementation spawns bin/console under the service identity;
// tests substitute a recording fake.
type Console interface {
	Install(ctx context.Context) error
	Migrate(ctx context.Context) error
	CreateAdmin(ctx context.Context, user, password, email string) error
	SeedDemoData(ctx context.Context) error
	RefreshPlugins(ctx context.Context) error
	InstallPlugin(ctx context.Context, name string) error
	ClearCache(ctx context.Context) error
}

type shellConsole struct {
	exec command.Executor
}

func NewConsole(cfg *config.Config) Console {
	runner := command.NewRunner()
	runner.Dir = cfg.App.ShopRoot
	runner.UID = uint32(cfg.Runtime.ServiceUID)
	runner.GID = uint32(cfg.Runtime.ServiceGID)
	return &shellConsole{exec: runner}
}

// Install performs the first-run installation with drop-and-recreate
// semantics, tolerating a schema the store's own bootstrap already created.
func (c *shellConsole) Install(ctx context.Context) error {
	return c.exec.Run(ctx, "php", "bin/console", "system:install",
		"--drop-database", "--create-database", "--basic-setup", "--force")
}

func (c *shellConsole) Migrate(ctx context.Context) error {
	return c.exec.Run(ctx, "php", "bin/console", "database:migrate", "--all", "core")
}

func (c *shellConsole) CreateAdmin(ctx context.Context, user, password, email string) error {
	return c.exec.Run(ctx, "php", "bin/console", "user:create", user,
		"--admin", "--password="+password, "--email="+email)
}

func (c *shellConsole) SeedDemoData(ctx context.Context) error {
	return c.exec.Run(ctx, "php", "bin/console", "framework:demodata")
}

func (c *shellConsole) RefreshPlugins(ctx context.Context) error {
	return c.exec.Run(ctx, "php", "bin/console", "plugin:refresh")
}

func (c *shellConsole) InstallPlugin(ctx context.Context, name string) error {
	return c.exec.Run(ctx, "php", "bin/console", "plugin:install", "--activate", name)
}

func (c *shellConsole) ClearCache(ctx context.Context) error {
	return c.exec.Run(ctx, "php", "bin/console", "cache:clear")
}
