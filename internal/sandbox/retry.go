package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/fitchfork/grader/internal/faults"
)

const (
	hostErrorRetries = 3
	retryBaseDelay   = 500 * time.Millisecond
)

// RunWithRetry applies the failure policy around a runner: a container start
// failure is retried once, host errors up to three times with exponential
// backoff. Timeouts, OOM kills and non-zero exits come back as results.
func RunWithRetry(ctx context.Context, r Runner, req Request, log *slog.Logger) (*Result, error) {
	res, err := r.Run(ctx, req)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	if IsStartFailure(err) {
		log.Warn("container start failed, retrying once", "job", req.JobID, "err", err)
		res, err = r.Run(ctx, req)
		if err == nil {
			return res, nil
		}
		// Escalate to the host-error policy below.
	}

	delay := retryBaseDelay
	for attempt := 1; attempt <= hostErrorRetries; attempt++ {
		log.Warn("sandbox host error, backing off",
			"job", req.JobID, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		res, err = r.Run(ctx, req)
		if err == nil {
			return res, nil
		}
		delay *= 2
	}
	return nil, faults.Wrap(faults.SandboxHostError, err, "sandbox failed after %d retries", hostErrorRetries)
}
