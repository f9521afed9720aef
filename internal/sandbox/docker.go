package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/fitchfork/grader/internal/faults"
)

// DockerRunner executes task commands in throwaway containers. Every run
// gets no network, a read-only scratch mount, a private tmpfs, a non-root
// user and dropped capabilities.
type DockerRunner struct {
	cli   *client.Client
	image string
}

func NewDockerRunner(image string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRunner{cli: cli, image: image}, nil
}

// stopGrace bounds container teardown after a wall-clock timeout.
const stopGrace = 2 * time.Second

func (d *DockerRunner) Run(ctx context.Context, req Request) (*Result, error) {
	cfg := &container.Config{
		Image:      d.image,
		Cmd:        []string{"sh", "-c", req.Command},
		WorkingDir: "/code",
		User:       "1000:1000",
		Env:        []string{"OUTPUT_DIR=/output"},
	}
	pids := int64(req.Limits.MaxProcesses)
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: req.ScratchDir, Target: "/code", ReadOnly: true},
			{Type: mount.TypeBind, Source: req.OutputDir, Target: "/output"},
		},
		Tmpfs:       map[string]string{"/tmp": "rw,size=67108864"},
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    int64(req.Limits.MaxMemoryBytes),
			NanoCPUs:  int64(req.Limits.MaxCpus) * 1_000_000_000,
			PidsLimit: &pids,
		},
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "grader-"+req.JobID)
	if err != nil {
		return nil, &startFailure{err: err}
	}
	id := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = d.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}()

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, &startFailure{err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Limits.Timeout)
	defer cancel()

	res := &Result{}
	waitCh, errCh := d.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		res.ExitCode = status.StatusCode
	case err := <-errCh:
		if runCtx.Err() != nil && ctx.Err() == nil {
			res.TimedOut = true
			d.stop(id)
		} else {
			return nil, faults.Wrap(faults.SandboxHostError, err, "waiting for container")
		}
	case <-runCtx.Done():
		if ctx.Err() != nil {
			d.stop(id)
			return nil, ctx.Err()
		}
		res.TimedOut = true
		d.stop(id)
	}
	res.Duration = time.Since(start)

	if err := d.drainLogs(id, res); err != nil {
		return nil, err
	}

	inspect, err := d.cli.ContainerInspect(context.Background(), id)
	if err == nil && inspect.State != nil {
		res.OOMKilled = inspect.State.OOMKilled
		if !res.TimedOut {
			res.ExitCode = int64(inspect.State.ExitCode)
		}
	}

	readSidecars(res, req.OutputDir)
	return res, nil
}

func (d *DockerRunner) stop(id string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace+time.Second)
	defer cancel()
	grace := int(stopGrace.Seconds())
	_ = d.cli.ContainerStop(stopCtx, id, container.StopOptions{Timeout: &grace})
}

func (d *DockerRunner) drainLogs(id string, res *Result) error {
	logCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rc, err := d.cli.ContainerLogs(logCtx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return faults.Wrap(faults.SandboxHostError, err, "reading container logs")
	}
	defer rc.Close()

	var stdout, stderr cappedBuffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return faults.Wrap(faults.SandboxHostError, err, "demuxing container logs")
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = stdout.truncated || stderr.truncated
	return nil
}
