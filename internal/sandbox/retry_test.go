package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchfork/grader/internal/faults"
)

type scriptedRunner struct {
	calls int
	errs  []error
}

func (s *scriptedRunner) Run(ctx context.Context, req Request) (*Result, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return &Result{ExitCode: 0, Stdout: "ok"}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetryStartFailureOnce(t *testing.T) {
	r := &scriptedRunner{errs: []error{&startFailure{err: errors.New("no such image")}}}
	res, err := RunWithRetry(context.Background(), r, Request{JobID: "j"}, discard())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, 2, r.calls)
}

func TestRetryHostErrorWithBackoff(t *testing.T) {
	hostErr := faults.New(faults.SandboxHostError, "daemon hiccup")
	r := &scriptedRunner{errs: []error{hostErr, hostErr}}
	res, err := RunWithRetry(context.Background(), r, Request{JobID: "j"}, discard())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, 3, r.calls)
}

func TestRetryGivesUpAfterLimit(t *testing.T) {
	hostErr := faults.New(faults.SandboxHostError, "daemon down")
	r := &scriptedRunner{errs: []error{hostErr, hostErr, hostErr, hostErr, hostErr}}
	_, err := RunWithRetry(context.Background(), r, Request{JobID: "j"}, discard())
	require.Error(t, err)
	assert.Equal(t, faults.SandboxHostError, faults.KindOf(err))
	assert.Equal(t, 1+hostErrorRetries, r.calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hostErr := faults.New(faults.SandboxHostError, "daemon down")
	r := &scriptedRunner{errs: []error{hostErr, hostErr}}
	_, err := RunWithRetry(ctx, r, Request{JobID: "j"}, discard())
	require.Error(t, err)
	assert.Equal(t, 1, r.calls)
}
