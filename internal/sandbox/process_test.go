package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func procRequest(t *testing.T, command string, timeout time.Duration) Request {
	t.Helper()
	return Request{
		JobID:      "test",
		ScratchDir: t.TempDir(),
		OutputDir:  t.TempDir(),
		Command:    command,
		Limits:     Limits{Timeout: timeout, MaxMemoryBytes: 1 << 30, MaxCpus: 1, MaxProcesses: 32},
	}
}

func TestProcessRunnerCapturesOutput(t *testing.T) {
	r := NewProcessRunner()
	res, err := r.Run(context.Background(), procRequest(t, `echo out; echo err >&2`, 5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestProcessRunnerNonZeroExitIsAResult(t *testing.T) {
	r := NewProcessRunner()
	res, err := r.Run(context.Background(), procRequest(t, `echo partial; exit 3`, 5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.ExitCode)
	assert.Equal(t, "partial\n", res.Stdout)
}

func TestProcessRunnerWallClockTimeout(t *testing.T) {
	r := NewProcessRunner()
	start := time.Now()
	res, err := r.Run(context.Background(), procRequest(t, `sleep 30`, 200*time.Millisecond))
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestProcessRunnerReadsSidecars(t *testing.T) {
	r := NewProcessRunner()
	req := procRequest(t, `printf '{"summary":{"coverage_percent":80},"files":[]}' > "$OUTPUT_DIR"/coverage.json`, 5*time.Second)
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, res.CoverageJSON)
	assert.Contains(t, string(res.CoverageJSON), "coverage_percent")
	assert.Nil(t, res.ComplexityJSON)
}

func TestProcessRunnerScratchIsWorkingDir(t *testing.T) {
	r := NewProcessRunner()
	req := procRequest(t, `cat hello.txt`, 5*time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(req.ScratchDir, "hello.txt"), []byte("hi"), 0o644))

	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Stdout)
}

func TestCappedBufferTruncates(t *testing.T) {
	var b cappedBuffer
	chunk := strings.Repeat("x", 1<<20)
	for i := 0; i < 10; i++ {
		n, err := b.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}
	out := b.String()
	assert.True(t, b.truncated)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
	assert.Len(t, out, MaxCapturedOutput+len(TruncationMarker))
}
