package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hookworks/deploygate/internal/config"
	"github.com/hookworks/deploygate/internal/template"
)

// Runner executes a single command template: substitute variables, honor
// dry-run mode, spawn, and optionally log the captured output.
type Runner struct {
	hook    *config.HookConfig
	spawner Spawner
	logger  *slog.Logger
}

// NewRunner creates a Runner. A nil spawner falls back to ShellSpawner.
func NewRunner(hook *config.HookConfig, spawner Spawner, logger *slog.Logger) *Runner {
	if spawner == nil {
		spawner = &ShellSpawner{}
	}
	return &Runner{
		hook:    hook,
		spawner: spawner,
		logger:  logger,
	}
}

// Run substitutes variables into tmpl and executes the result. In dry-run
// mode the command is logged and nothing is spawned. On success with
// log_commands enabled, captured stdout/stderr are logged verbatim.
func (r *Runner) Run(ctx context.Context, tmpl string) error {
	command := template.Substitute(tmpl, r.hook.Vars)

	if r.hook.DryCommands {
		r.logger.Info("dry run, command not executed", "command", command)
		return nil
	}

	if r.hook.LogCommands {
		r.logger.Info("executing command", "command", command)
	}

	runCtx := ctx
	if r.hook.CommandTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.hook.CommandTimeout)
		defer cancel()
	}

	stdout, stderr, err := r.spawner.Spawn(runCtx, command)
	if err != nil {
		return fmt.Errorf("command %q: %w", command, err)
	}

	if r.hook.LogCommands {
		r.logger.Info("command completed", "command", command, "stdout", stdout, "stderr", stderr)
	}
	return nil
}
