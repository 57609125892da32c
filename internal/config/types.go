package config

import "time"

// Config represents the complete deploygate configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	History HistoryConfig `yaml:"history"`
	Hook    HookConfig    `yaml:"hook"`
}

// ServiceConfig defines core daemon settings.
type ServiceConfig struct {
	Listen   string `yaml:"listen"`
	HookPath string `yaml:"hook_path"`
	LogLevel string `yaml:"log_level"`
}

// HistoryConfig defines run history storage settings.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// HookConfig defines which deliveries are acted on and what gets run.
// It is immutable after Load returns; request handling only reads it.
type HookConfig struct {
	// Events lists accepted event types. "*" as the first element accepts all.
	Events []string `yaml:"events"`

	// Secret enables HMAC signature verification when non-empty.
	Secret string `yaml:"secret"`

	// Token enables the ?token= query parameter check when non-empty.
	Token string `yaml:"token"`

	// Branches lists accepted branch names. "*" as the first element accepts all.
	Branches []string `yaml:"branches"`

	// OnlyTags restricts eligible pushes to tag-pointing refs.
	OnlyTags bool `yaml:"only_tags"`

	// PusherIgnore / CommitIgnore are regex patterns; a match soft-rejects
	// the delivery. nil means "use the built-in default"; an explicit empty
	// string disables the filter.
	PusherIgnore *string `yaml:"pusher_ignore"`
	CommitIgnore *string `yaml:"commit_ignore"`

	// Vars maps $name$ tokens to their replacement values.
	Vars map[string]string `yaml:"vars"`

	// CommandOrder is the category execution order.
	CommandOrder []string `yaml:"command_order"`

	// Commands maps category name to an ordered list of command templates.
	Commands map[string][]string `yaml:"commands"`

	// Delays maps category name to the wait applied before it runs.
	Delays map[string]time.Duration `yaml:"delays"`

	// DryCommands logs commands instead of spawning them.
	DryCommands bool `yaml:"dry_commands"`

	// LogCommands logs command text and captured output.
	LogCommands bool `yaml:"log_commands"`

	// SerializeRuns gates runs behind a mutex so at most one executes at a
	// time. Off by default: overlapping runs are the historical behavior
	// and callers may prefer to serialize at the HTTP layer instead.
	SerializeRuns bool `yaml:"serialize_runs"`

	// CommandTimeout bounds each spawned command. Zero (the default)
	// preserves the historical unbounded behavior.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Built-in ignore patterns. Overridable per config; kept as defaults only.
const (
	DefaultPusherIgnore = `\[bot\]`
	DefaultCommitIgnore = `\[nopull\]`
)

// Defaults returns a Config with the documented defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Listen:   "127.0.0.1:8711",
			HookPath: "/hook",
			LogLevel: "info",
		},
		History: HistoryConfig{
			Path: "./data/deploygate.db",
		},
		Hook: HookConfig{
			Events:       []string{"push"},
			Branches:     []string{"main", "master"},
			PusherIgnore: strPtr(DefaultPusherIgnore),
			CommitIgnore: strPtr(DefaultCommitIgnore),
			Vars: map[string]string{
				"remote":  "origin",
				"branch":  "main",
				"appName": "app",
			},
			CommandOrder: []string{"pre", "git", "install", "post"},
			Commands: map[string][]string{
				"git":  {"git fetch $remote$ $branch$", "git pull $remote$ $branch$"},
				"post": {"pm2 restart $appName$"},
			},
			Delays: map[string]time.Duration{},
		},
	}
}

func strPtr(s string) *string { return &s }
