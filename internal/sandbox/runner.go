// Package sandbox executes one task command inside an isolated environment
// and captures its outputs. The Docker backend is the production one; the
// process backend exists for development and tests.
package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Limits are the per-task resource constraints from the execution config.
type Limits struct {
	Timeout        time.Duration
	MaxMemoryBytes uint64
	MaxCpus        uint8
	MaxProcesses   uint32
}

// Request describes one task run. ScratchDir holds the composed file tree
// and is exposed read-only; OutputDir receives the sidecar reports.
type Request struct {
	JobID      string
	ScratchDir string
	OutputDir  string
	// Command is an opaque shell string, executed as `sh -c <command>`.
	Command string
	Limits  Limits
}

// Result of one task run. Timeout, OOM and non-zero exits are results, not
// errors; the captured stdout is scored regardless.
type Result struct {
	ExitCode  int64
	Stdout    string
	Stderr    string
	Duration  time.Duration
	TimedOut  bool
	OOMKilled bool
	Truncated bool

	// Sidecar documents found in OutputDir after the run, nil when absent.
	CoverageJSON   []byte
	ComplexityJSON []byte
	// GcovText is raw gcov output from instrumented C++ runs, "" when
	// absent; it substitutes for CoverageJSON.
	GcovText string
}

type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Sidecar file names the runner image writes into /output.
const (
	CoverageSidecar   = "coverage.json"
	ComplexitySidecar = "complexity.json"
	GcovSidecar       = "gcov.txt"
)

// readSidecars loads the optional report files; absence is not an error.
func readSidecars(res *Result, outputDir string) {
	if data, err := os.ReadFile(filepath.Join(outputDir, CoverageSidecar)); err == nil {
		res.CoverageJSON = data
	}
	if data, err := os.ReadFile(filepath.Join(outputDir, ComplexitySidecar)); err == nil {
		res.ComplexityJSON = data
	}
	if data, err := os.ReadFile(filepath.Join(outputDir, GcovSidecar)); err == nil {
		res.GcovText = string(data)
	}
}

// startFailure marks errors from container creation/start, retried once
// before being escalated to a host error.
type startFailure struct{ err error }

func (e *startFailure) Error() string { return "container start failed: " + e.err.Error() }
func (e *startFailure) Unwrap() error { return e.err }

// IsStartFailure reports whether err came from container creation or start.
func IsStartFailure(err error) bool {
	var sf *startFailure
	return errors.As(err, &sf)
}

// MaxCapturedOutput caps captured stdout/stderr per stream.
const MaxCapturedOutput = 8 << 20

// TruncationMarker is appended when a stream hits the cap.
const TruncationMarker = "\n[output truncated]"

// cappedBuffer keeps at most MaxCapturedOutput bytes and remembers whether
// anything was dropped.
type cappedBuffer struct {
	buf       []byte
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := MaxCapturedOutput - len(b.buf)
	if room > 0 {
		if len(p) <= room {
			b.buf = append(b.buf, p...)
			return len(p), nil
		}
		b.buf = append(b.buf, p[:room]...)
	}
	b.truncated = true
	// Report full consumption so the producer keeps draining.
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + TruncationMarker
	}
	return string(b.buf)
}
