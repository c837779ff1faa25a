package reload

import (
	"context"
	"os/exec"
)

// ShellRunner runs commands through bash so process substitution in the
// syncconf pipeline works.
type ShellRunner struct{}

// NewShellRunner returns a runner backed by the local shell.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run executes the command and returns combined stdout and stderr. The
// context deadline kills the process when a reload hangs.
func (r *ShellRunner) Run(ctx context.Context, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	return cmd.CombinedOutput()
}
