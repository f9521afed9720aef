package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/fitchfork/grader/internal/faults"
)

// ProcessRunner executes commands as local child processes. It offers no
// isolation and exists for development and the test suite; production runs
// go through DockerRunner.
type ProcessRunner struct{}

func NewProcessRunner() *ProcessRunner { return &ProcessRunner{} }

func (p *ProcessRunner) Run(ctx context.Context, req Request) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, req.Limits.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", req.Command)
	cmd.Dir = req.ScratchDir
	cmd.Env = append(os.Environ(), "OUTPUT_DIR="+req.OutputDir)

	var stdout, stderr cappedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		res.TimedOut = true
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = int64(exitErr.ExitCode())
		} else {
			return nil, faults.Wrap(faults.SandboxHostError, err, "running command")
		}
	}

	readSidecars(res, req.OutputDir)
	return res, nil
}
