// Package gitutil wraps the git binary as an argv-only subprocess and
// exposes the narrow set of read/branch operations the worktree manager and
// git HTTP surface need. Every invocation passes arguments individually to
// exec.Command; nothing is ever interpolated into a shell string.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Executor runs git subcommands rooted at a working directory.
type Executor interface {
	Run(dir string, args ...string) ([]byte, error)
	RunWithTimeout(ctx context.Context, dir string, timeout time.Duration, args ...string) ([]byte, error)
}

type execExecutor struct{}

// NewExecutor returns an Executor backed by the system git binary.
func NewExecutor() Executor {
	return &execExecutor{}
}

func (e *execExecutor) Run(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (e *execExecutor) RunWithTimeout(ctx context.Context, dir string, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
