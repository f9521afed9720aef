package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchfork/grader/internal/faults"
)

const sampleConfig = `{
  "execution": {"timeout_secs": 2, "max_memory": 1073741824, "max_cpus": 1,
                "max_uncompressed_size": 5000000, "max_processes": 32},
  "marking":   {"marking_scheme": "percentage", "feedback_scheme": "manual",
                "deliminator": "###", "grading_policy": "best",
                "pass_mark": 40, "dissalowed_code": ["system("]},
  "project":   {"language": "cpp"},
  "coverage":  {"enabled": true},
  "gatlam":    {"population_size": 20}
}`

func TestUnmarshalOverlaysDefaults(t *testing.T) {
	var cfg ExecutionConfig
	require.NoError(t, json.Unmarshal([]byte(`{"execution":{"timeout_secs":30}}`), &cfg))

	assert.Equal(t, uint32(30), cfg.Execution.TimeoutSecs)
	// Everything else keeps the documented defaults.
	assert.Equal(t, uint64(8589934592), cfg.Execution.MaxMemory)
	assert.Equal(t, uint8(2), cfg.Execution.MaxCpus)
	assert.Equal(t, uint32(256), cfg.Execution.MaxProcesses)
	assert.Equal(t, uint64(100000000), cfg.Execution.MaxUncompressedSize)
	assert.Equal(t, "&-=-&", cfg.Marking.Delimiter)
	assert.Equal(t, SchemeExact, cfg.Marking.Scheme)
	assert.Equal(t, FeedbackAuto, cfg.Marking.Feedback)
	require.NoError(t, cfg.Validate())
}

func TestRoundTripPreservesUnknownKeysAndTypos(t *testing.T) {
	var cfg ExecutionConfig
	require.NoError(t, json.Unmarshal([]byte(sampleConfig), &cfg))

	out, err := json.Marshal(&cfg)
	require.NoError(t, err)

	// The unknown gatlam section and the on-disk typos survive.
	assert.Contains(t, string(out), `"gatlam"`)
	assert.Contains(t, string(out), `"population_size":20`)
	assert.Contains(t, string(out), `"deliminator":"###"`)
	assert.Contains(t, string(out), `"dissalowed_code":["system("]`)

	var again ExecutionConfig
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, cfg.Execution, again.Execution)
	assert.Equal(t, cfg.Marking, again.Marking)
	assert.Equal(t, cfg.Project, again.Project)
	assert.Equal(t, cfg.Coverage, again.Coverage)
}

func TestRoundTripPreservesIntraSectionExtras(t *testing.T) {
	in := `{
	  "execution": {"timeout_secs": 5, "fuel_budget": 9000},
	  "marking":   {"deliminator": "###", "rubric_version": "v2"},
	  "coverage":  {"enabled": false, "exclude_globs": ["vendor/*"]}
	}`
	var cfg ExecutionConfig
	require.NoError(t, json.Unmarshal([]byte(in), &cfg))
	assert.Equal(t, uint32(5), cfg.Execution.TimeoutSecs)

	out, err := json.Marshal(&cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"fuel_budget":9000`)
	assert.Contains(t, string(out), `"rubric_version":"v2"`)
	assert.Contains(t, string(out), `"exclude_globs":["vendor/*"]`)
	// Mapped fields still come from the struct, not the extras.
	assert.Contains(t, string(out), `"timeout_secs":5`)

	var again ExecutionConfig
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, cfg.Execution, again.Execution)
	assert.Equal(t, cfg.Marking, again.Marking)
}

func TestDiffLineCapDefaultsAndValidates(t *testing.T) {
	var cfg ExecutionConfig
	require.NoError(t, json.Unmarshal([]byte(`{}`), &cfg))
	assert.Equal(t, uint32(10), cfg.Marking.MaxDiffLines)

	require.NoError(t, json.Unmarshal([]byte(`{"marking":{"max_diff_lines":3}}`), &cfg))
	assert.Equal(t, uint32(3), cfg.Marking.MaxDiffLines)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ExecutionConfig)
	}{
		{"zero timeout", func(c *ExecutionConfig) { c.Execution.TimeoutSecs = 0 }},
		{"zero memory", func(c *ExecutionConfig) { c.Execution.MaxMemory = 0 }},
		{"empty delimiter", func(c *ExecutionConfig) { c.Marking.Delimiter = "" }},
		{"unknown scheme", func(c *ExecutionConfig) { c.Marking.Scheme = "vibes" }},
		{"unknown feedback", func(c *ExecutionConfig) { c.Marking.Feedback = "gpt" }},
		{"unknown policy", func(c *ExecutionConfig) { c.Marking.GradingPolicy = "median" }},
		{"pass mark above 100", func(c *ExecutionConfig) { c.Marking.PassMark = 101 }},
		{"zero diff line cap", func(c *ExecutionConfig) { c.Marking.MaxDiffLines = 0 }},
		{"unknown language", func(c *ExecutionConfig) { c.Project.Language = "cobol" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, faults.ConfigInvalid, faults.KindOf(err))
		})
	}
}

func TestCoverageWarning(t *testing.T) {
	cfg := Default()
	cfg.Coverage.Enabled = true
	assert.Len(t, cfg.Warnings(false), 1)
	assert.Empty(t, cfg.Warnings(true))
}

func TestLoadPrefersConfigJsonThenFirstSorted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zzz.json"), []byte(sampleConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aaa.json"), []byte(`{"marking":{"deliminator":"@@"}}`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "@@", cfg.Marking.Delimiter)

	require.NoError(t, Save(cfg, filepath.Join(dir, "config.json")))
	cfg2, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Marking, cfg2.Marking)
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, faults.ConfigInvalid, faults.KindOf(err))
}
