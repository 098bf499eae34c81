// Package sandbox executes commands on behalf of the agent, preferring
// Docker isolation and falling back to direct host execution.
package sandbox

import (
	"context"
	"time"
)

// Result captures the output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Runner runs a command inside a working directory with a timeout.
// Implementations decide how much isolation the command gets.
type Runner interface {
	// RunCmd runs name with args in workDir. timeout <= 0 uses the
	// runner's default.
	RunCmd(ctx context.Context, workDir, name string, args []string, timeout time.Duration) (Result, error)
}

// RunCmd runs a command through the default runner, using Docker when
// available.
func RunCmd(ctx context.Context, workDir, name string, args []string, timeout time.Duration) (Result, error) {
	return NewDefaultRunner().RunCmd(ctx, workDir, name, args, timeout)
}
