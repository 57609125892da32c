package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file (or a directory containing
// config.yaml), interpolates ${ENV_VAR} references, merges the result over
// the documented defaults, and validates it. If a .checksums manifest exists
// alongside the file, the file's integrity is verified against it.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	merged := applyDefaults(&cfg)

	if err := verifyIfLocked(absPath); err != nil {
		return nil, err
	}

	if err := validate(merged); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return merged, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $DEPLOYGATE_CONFIG, ~/.config/deploygate/config.yaml,
// /etc/deploygate/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("DEPLOYGATE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "deploygate", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/deploygate/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	legacyConfig := "./config.yaml"
	if _, err := os.Stat(legacyConfig); err == nil {
		return legacyConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $DEPLOYGATE_CONFIG, ~/.config/deploygate, /etc/deploygate, ./config.yaml)")
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// interpolateEnv replaces ${VAR} references with environment values.
// Unset variables interpolate to the empty string.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyDefaults merges user over defaults. Scalars keep the user value when
// set; slices replace wholesale when provided; the vars/commands/delays maps
// merge one level deep, so a user-supplied key overrides only that key and
// default categories are never silently dropped.
func applyDefaults(user *Config) *Config {
	cfg := Defaults()

	if user.Service.Listen != "" {
		cfg.Service.Listen = user.Service.Listen
	}
	if user.Service.HookPath != "" {
		cfg.Service.HookPath = user.Service.HookPath
	}
	if user.Service.LogLevel != "" {
		cfg.Service.LogLevel = user.Service.LogLevel
	}
	if user.History.Path != "" {
		cfg.History.Path = user.History.Path
	}

	h := &cfg.Hook
	uh := &user.Hook

	if uh.Events != nil {
		h.Events = uh.Events
	}
	if uh.Branches != nil {
		h.Branches = uh.Branches
	}
	if uh.CommandOrder != nil {
		h.CommandOrder = uh.CommandOrder
	}
	if uh.PusherIgnore != nil {
		h.PusherIgnore = uh.PusherIgnore
	}
	if uh.CommitIgnore != nil {
		h.CommitIgnore = uh.CommitIgnore
	}

	for name, value := range uh.Vars {
		h.Vars[name] = value
	}
	for category, commands := range uh.Commands {
		h.Commands[category] = commands
	}
	for category, delay := range uh.Delays {
		h.Delays[category] = delay
	}

	h.Secret = uh.Secret
	h.Token = uh.Token
	h.OnlyTags = uh.OnlyTags
	h.DryCommands = uh.DryCommands
	h.LogCommands = uh.LogCommands
	h.SerializeRuns = uh.SerializeRuns
	h.CommandTimeout = uh.CommandTimeout

	return cfg
}

func validate(cfg *Config) error {
	if !strings.HasPrefix(cfg.Service.HookPath, "/") {
		return fmt.Errorf("service.hook_path must start with '/': %q", cfg.Service.HookPath)
	}
	if len(cfg.Hook.Events) == 0 {
		return fmt.Errorf("hook.events must not be empty")
	}
	if len(cfg.Hook.Branches) == 0 {
		return fmt.Errorf("hook.branches must not be empty")
	}
	if cfg.Hook.CommandTimeout < 0 {
		return fmt.Errorf("hook.command_timeout must not be negative")
	}

	for category, delay := range cfg.Hook.Delays {
		if delay < 0 {
			return fmt.Errorf("hook.delays[%s] must not be negative", category)
		}
	}

	for field, pattern := range map[string]*string{
		"hook.pusher_ignore": cfg.Hook.PusherIgnore,
		"hook.commit_ignore": cfg.Hook.CommitIgnore,
	} {
		if pattern == nil || *pattern == "" {
			continue
		}
		if _, err := regexp.Compile(*pattern); err != nil {
			return fmt.Errorf("%s: invalid pattern %q: %w", field, *pattern, err)
		}
	}

	return nil
}
