package publisher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Builder runs the static site generator over a prepared work directory and
// produces the output under <workDir>/public.
type Builder interface {
	Build(ctx context.Context, workDir string) (*BuildOutput, error)
}

// BuildOutput captures the generator run for logs and deployment results.
type BuildOutput struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExecBuilder invokes the configured generator binary as a subprocess.
// Site generation is the one CPU-heavy step in the pipeline; it runs outside
// the replica process and is bounded by the build timeout.
type ExecBuilder struct {
	binary  string
	timeout time.Duration
}

// NewExecBuilder creates a builder for the given generator binary.
func NewExecBuilder(binary string, timeout time.Duration) *ExecBuilder {
	return &ExecBuilder{binary: binary, timeout: timeout}
}

// Build runs the generator with the work directory as source and
// <workDir>/public as destination.
func (b *ExecBuilder) Build(ctx context.Context, workDir string) (*BuildOutput, error) {
	buildCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(buildCtx, b.binary,
		"--source", workDir,
		"--destination", workDir+"/public",
		"--quiet")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	out := &BuildOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if err != nil {
		if buildCtx.Err() != nil {
			return out, fmt.Errorf("site generator timed out after %s: %w", b.timeout, buildCtx.Err())
		}
		return out, fmt.Errorf("site generator failed: %w (stderr: %s)", err, truncateOutput(out.Stderr))
	}
	return out, nil
}

func truncateOutput(s string) string {
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
