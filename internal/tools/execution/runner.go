// Package execution provides the command tools. Commands run through the
// sandbox package, in Docker when available.
package execution

import (
	"context"
	"time"

	"github.com/ChamsBouzaiene/kea/internal/sandbox"
)

// Runner abstracts the sandbox so tests can substitute a fake.
type Runner interface {
	RunCmd(ctx context.Context, workDir, name string, args []string, timeout time.Duration) (sandbox.Result, error)
}

// SandboxRunner routes commands through the default sandbox runner.
type SandboxRunner struct {
	runner sandbox.Runner
}

// NewSandboxRunner creates a SandboxRunner with the environment-selected
// backend.
func NewSandboxRunner() *SandboxRunner {
	return &SandboxRunner{runner: sandbox.NewDefaultRunner()}
}

func (r *SandboxRunner) RunCmd(ctx context.Context, workDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
	return r.runner.RunCmd(ctx, workDir, name, args, timeout)
}
