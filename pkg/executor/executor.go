// Package executor runs external programs such as ffmpeg.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotInstalled is returned when the requested program is not on PATH.
var ErrNotInstalled = errors.New("executor: program not installed")

// Executor runs an external command and returns its standard output.
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

type implExecutor struct{}

// New creates an Executor backed by os/exec.
func New() Executor {
	return &implExecutor{}
}

// Execute runs name with args. On failure the trimmed stderr is included in
// the error.
func (e *implExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("command '%s' failed: %w\nstderr: %s", name, err, msg)
		}
		return nil, fmt.Errorf("command '%s' failed: %w", name, err)
	}

	return stdout.Bytes(), nil
}
