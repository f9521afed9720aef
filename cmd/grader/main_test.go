package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchfork/grader/api"
)

func TestFetchJobFilesRejectsEscapingPaths(t *testing.T) {
	// Validation fails before any download is attempted, so no mirror is
	// needed here.
	cases := []string{
		"/etc/passwd",
		"../outside.zip",
		"sub/../../outside.zip",
	}
	for _, path := range cases {
		err := fetchJobFiles(context.Background(), nil, t.TempDir(),
			[]api.RemoteFile{{Url: "https://b.s3.r.amazonaws.com/k", Path: path}})
		require.Error(t, err, path)
		assert.Contains(t, err.Error(), "escapes storage root")
	}
}

func TestFetchJobFilesEmptyListIsNoop(t *testing.T) {
	require.NoError(t, fetchJobFiles(context.Background(), nil, t.TempDir(), nil))
}
