package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "service:\n  listen: \"127.0.0.1:9000\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Service.Listen)
	assert.Equal(t, "/hook", cfg.Service.HookPath)
	assert.Equal(t, []string{"push"}, cfg.Hook.Events)
	assert.Equal(t, []string{"main", "master"}, cfg.Hook.Branches)
	assert.Equal(t, []string{"pre", "git", "install", "post"}, cfg.Hook.CommandOrder)
	assert.Equal(t, []string{"git fetch $remote$ $branch$", "git pull $remote$ $branch$"}, cfg.Hook.Commands["git"])
	assert.Equal(t, []string{"pm2 restart $appName$"}, cfg.Hook.Commands["post"])
	require.NotNil(t, cfg.Hook.PusherIgnore)
	assert.Equal(t, DefaultPusherIgnore, *cfg.Hook.PusherIgnore)
	require.NotNil(t, cfg.Hook.CommitIgnore)
	assert.Equal(t, DefaultCommitIgnore, *cfg.Hook.CommitIgnore)
	assert.False(t, cfg.Hook.DryCommands)
	assert.Zero(t, cfg.Hook.CommandTimeout)
}

// A user-supplied key overrides only that key: setting commands.git must not
// drop the default post category, and a new var adds to the default vars.
func TestLoad_MergesMapsPerKey(t *testing.T) {
	path := writeConfig(t, `
hook:
  vars:
    branch: develop
    service: api
  commands:
    git: ["git pull --rebase"]
  delays:
    install: 2000000000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "develop", cfg.Hook.Vars["branch"])
	assert.Equal(t, "api", cfg.Hook.Vars["service"])
	assert.Equal(t, "origin", cfg.Hook.Vars["remote"])

	assert.Equal(t, []string{"git pull --rebase"}, cfg.Hook.Commands["git"])
	assert.Equal(t, []string{"pm2 restart $appName$"}, cfg.Hook.Commands["post"])

	assert.Equal(t, 2*time.Second, cfg.Hook.Delays["install"])
}

func TestLoad_SlicesReplaceWholesale(t *testing.T) {
	path := writeConfig(t, `
hook:
  events: ["*", "push"]
  branches: ["release"]
  command_order: ["git"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"*", "push"}, cfg.Hook.Events)
	assert.Equal(t, []string{"release"}, cfg.Hook.Branches)
	assert.Equal(t, []string{"git"}, cfg.Hook.CommandOrder)
}

func TestLoad_ExplicitEmptyIgnoreDisablesFilter(t *testing.T) {
	path := writeConfig(t, `
hook:
  pusher_ignore: ""
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Hook.PusherIgnore)
	assert.Empty(t, *cfg.Hook.PusherIgnore)
	// Commit filter untouched, keeps the default.
	require.NotNil(t, cfg.Hook.CommitIgnore)
	assert.Equal(t, DefaultCommitIgnore, *cfg.Hook.CommitIgnore)
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("DEPLOYGATE_TEST_SECRET", "s3cret")
	path := writeConfig(t, `
hook:
  secret: "${DEPLOYGATE_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Hook.Secret)
}

func TestLoad_DirectoryResolvesConfigYAML(t *testing.T) {
	path := writeConfig(t, "hook:\n  token: abc\n")

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Hook.Token)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad pusher regex", "hook:\n  pusher_ignore: '['\n"},
		{"bad commit regex", "hook:\n  commit_ignore: '(unclosed'\n"},
		{"hook path without slash", "service:\n  hook_path: hook\n"},
		{"negative delay", "hook:\n  delays:\n    git: -5\n"},
		{"negative command timeout", "hook:\n  command_timeout: -1\n"},
		{"not yaml", "{{{\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
