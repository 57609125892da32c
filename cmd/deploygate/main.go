package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hookworks/deploygate/internal/config"
	"github.com/hookworks/deploygate/internal/engine"
	"github.com/hookworks/deploygate/internal/githook"
	"github.com/hookworks/deploygate/internal/history"
	"github.com/hookworks/deploygate/internal/hooks"
	"github.com/hookworks/deploygate/internal/lock"
	"github.com/hookworks/deploygate/internal/log"
	"github.com/hookworks/deploygate/internal/server"
	"github.com/hookworks/deploygate/internal/tui/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "watch":
		os.Exit(runWatch(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("deploygate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`deploygate - Webhook-triggered deployment automation daemon

Usage:
  deploygate <command> [flags]

Commands:
  start         Start the webhook daemon in foreground
  watch         Live TUI of recent deployment runs
  config check  Validate configuration syntax and integrity
  config lock   Authorize current config state (write integrity hashes)
  version       Show version information
  help          Show this help message

Use 'deploygate <command> --help' for command-specific flags.
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "config requires an action: check or lock")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("deploygate starting", "version", version, "config", *configPath)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open run history", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer store.Close()
	logger.Info("run history opened", "path", cfg.History.Path)

	registry := hooks.NewRegistry()
	lifecycleLogger := log.WithComponent("lifecycle")
	registry.OnBefore(func(p *githook.PushPayload) {
		lifecycleLogger.Info("run starting", "ref", p.Ref, "pusher", p.Pusher.Name)
	})
	registry.OnAfter(func(p *githook.PushPayload, err error) {
		if err != nil {
			lifecycleLogger.Warn("run finished with error", "ref", p.Ref, "error", err)
			return
		}
		lifecycleLogger.Info("run finished", "ref", p.Ref)
	})
	registry.OnError(func(err error) {
		lifecycleLogger.Error("run failed", "error", err)
	})

	eng, err := engine.New(&cfg.Hook, nil, registry, store, log.WithComponent("engine"))
	if err != nil {
		logger.Error("invalid hook configuration", "error", err)
		return 1
	}

	srv := server.New(cfg.Service, eng, store, log.WithComponent("server"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	logger.Info("deploygate running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		cancel()
		exitCode = 1
	}

	// Let in-flight deployment runs finish before dropping the lock.
	eng.Wait()
	logger.Info("deploygate stopped")
	return exitCode
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("url", "http://127.0.0.1:8711", "Base URL of a running deploygate daemon")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch TUI failed: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check failed: %v\n", err)
		return 1
	}

	fmt.Printf("Config OK: %s\n", *configPath)
	fmt.Printf("  listen:    %s\n", cfg.Service.Listen)
	fmt.Printf("  hook path: %s\n", cfg.Service.HookPath)
	fmt.Printf("  events:    %v\n", cfg.Hook.Events)
	fmt.Printf("  branches:  %v\n", cfg.Hook.Branches)
	fmt.Printf("  order:     %v\n", cfg.Hook.CommandOrder)
	if cfg.Hook.Secret == "" {
		fmt.Println("  warning: no secret configured, signature verification is disabled")
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	dryRun := fs.Bool("dry-run", false, "Report what would be written without writing")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
	}

	manifestPath, err := config.Lock(*configPath, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if *dryRun {
		fmt.Printf("Dry run: would write %s\n", manifestPath)
		return 0
	}
	fmt.Printf("Wrote %s\n", manifestPath)
	return 0
}

func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.History.Path
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	ext := filepath.Ext(dbBase)
	return filepath.Join(dbDir, dbBase[:len(dbBase)-len(ext)]+".pid")
}
