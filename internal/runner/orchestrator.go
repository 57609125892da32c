package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookworks/deploygate/internal/config"
)

// Orchestrator drives a full command run: categories in configured order,
// each preceded by its configured delay, each command strictly sequential.
// Commands have ordering dependencies (fetch before pull, install before
// restart), so nothing here is ever parallel.
type Orchestrator struct {
	hook   *config.HookConfig
	runner *Runner
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil spawner falls back to
// ShellSpawner.
func NewOrchestrator(hook *config.HookConfig, spawner Spawner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		hook:   hook,
		runner: NewRunner(hook, spawner, logger),
		logger: logger,
	}
}

// RunAll executes every category named in command_order. A category without
// configured commands is a logged no-op. The first command failure aborts
// the run; remaining commands and categories do not execute.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	for _, category := range o.hook.CommandOrder {
		if delay := o.hook.Delays[category]; delay > 0 {
			o.logger.Debug("waiting before category", "category", category, "delay", delay)
			if err := wait(ctx, delay); err != nil {
				return fmt.Errorf("category %q: %w", category, err)
			}
		}

		commands, ok := o.hook.Commands[category]
		if !ok {
			o.logger.Warn("no commands configured for category", "category", category)
			continue
		}

		for _, tmpl := range commands {
			if err := o.runner.Run(ctx, tmpl); err != nil {
				return fmt.Errorf("category %q: %w", category, err)
			}
		}
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
