// Package core runs the extraction workflows: it owns the processing job
// state machine and turns one uploaded document into persisted indicators.
package core

import (
	"context"
	"os/exec"
)

// Runner abstracts external command execution so workflows are testable
// without the binaries installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

type execRunner struct{}

// NewRunner returns the Runner backed by os/exec.
func NewRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
