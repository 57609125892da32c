package runner

import (
	"bytes"
	"context"
	"os/exec"
)

// Spawner is the external process-execution primitive: run one shell
// command to completion and capture its output. A non-zero exit is
// reported through err (as *exec.ExitError for the default implementation).
type Spawner interface {
	Spawn(ctx context.Context, command string) (stdout, stderr string, err error)
}

// ShellSpawner executes commands through a shell so that templates may use
// pipes, &&-chains and environment expansion.
type ShellSpawner struct {
	// Shell is the interpreter binary. Defaults to /bin/sh.
	Shell string
}

func (s *ShellSpawner) Spawn(ctx context.Context, command string) (string, string, error) {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
