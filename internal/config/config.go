// Package config loads, validates and persists the per-assignment execution
// configuration. The on-disk JSON keeps two historical field-name typos
// ("deliminator", "dissalowed_code") bit-exact; the Go API uses corrected
// names. Unknown top-level keys are preserved across a load/save round trip.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fitchfork/grader/internal/faults"
	"github.com/fitchfork/grader/internal/langs"
)

type Scheme string

const (
	SchemeExact      Scheme = "exact"
	SchemePercentage Scheme = "percentage"
	SchemeRegex      Scheme = "regex"
)

type Feedback string

const (
	FeedbackAuto   Feedback = "auto"
	FeedbackManual Feedback = "manual"
	FeedbackAI     Feedback = "ai"
)

type Policy string

const (
	PolicyBest Policy = "best"
	PolicyLast Policy = "last"
)

var (
	knownSchemes   = mapset.NewSet(SchemeExact, SchemePercentage, SchemeRegex)
	knownFeedbacks = mapset.NewSet(FeedbackAuto, FeedbackManual, FeedbackAI)
	knownPolicies  = mapset.NewSet(PolicyBest, PolicyLast)
)

type Limits struct {
	TimeoutSecs         uint32 `json:"timeout_secs"`
	MaxMemory           uint64 `json:"max_memory"`
	MaxCpus             uint8  `json:"max_cpus"`
	MaxUncompressedSize uint64 `json:"max_uncompressed_size"`
	MaxProcesses        uint32 `json:"max_processes"`
}

type Marking struct {
	Scheme        Scheme   `json:"marking_scheme"`
	Feedback      Feedback `json:"feedback_scheme"`
	Delimiter     string   `json:"deliminator"`
	GradingPolicy Policy   `json:"grading_policy"`
	PassMark      float64  `json:"pass_mark"`
	// MaxDiffLines caps how many mismatching lines auto feedback reports.
	MaxDiffLines   uint32   `json:"max_diff_lines"`
	DisallowedCode []string `json:"dissalowed_code"`
}

type Project struct {
	Language string `json:"language"`
}

type CoverageOpts struct {
	Enabled bool `json:"enabled"`
}

// ExecutionConfig is immutable for the duration of one grading run.
type ExecutionConfig struct {
	Execution Limits
	Marking   Marking
	Project   Project
	Coverage  CoverageOpts

	// extras holds top-level sections this version does not interpret;
	// sectionExtras holds unknown keys inside the known sections. Both
	// survive a load/save round trip untouched.
	extras        map[string]json.RawMessage
	sectionExtras map[string]map[string]json.RawMessage
}

// Default returns a config prefilled with the documented defaults.
func Default() *ExecutionConfig {
	return &ExecutionConfig{
		Execution: Limits{
			TimeoutSecs:         10,
			MaxMemory:           8589934592, // 8 GiB
			MaxCpus:             2,
			MaxUncompressedSize: 100000000, // 100 MB
			MaxProcesses:        256,
		},
		Marking: Marking{
			Scheme:        SchemeExact,
			Feedback:      FeedbackAuto,
			Delimiter:     "&-=-&",
			GradingPolicy: PolicyLast,
			PassMark:      50,
			MaxDiffLines:  10,
		},
		Project: Project{Language: string(langs.Cpp)},
	}
}

func (c *ExecutionConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// Overlay sections onto the defaults so missing fields keep them.
	def := Default()
	c.Execution = def.Execution
	c.Marking = def.Marking
	c.Project = def.Project
	c.Coverage = def.Coverage

	sections := map[string]any{
		"execution": &c.Execution,
		"marking":   &c.Marking,
		"project":   &c.Project,
		"coverage":  &c.Coverage,
	}
	c.sectionExtras = make(map[string]map[string]json.RawMessage)
	for name, dst := range sections {
		if msg, ok := raw[name]; ok {
			if err := json.Unmarshal(msg, dst); err != nil {
				return fmt.Errorf("section %q: %w", name, err)
			}
			leftover, err := unknownKeys(msg, dst)
			if err != nil {
				return fmt.Errorf("section %q: %w", name, err)
			}
			if len(leftover) > 0 {
				c.sectionExtras[name] = leftover
			}
			delete(raw, name)
		}
	}
	c.extras = raw
	return nil
}

// unknownKeys returns the keys of msg that the section struct does not map.
func unknownKeys(msg json.RawMessage, section any) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(msg, &all); err != nil {
		return nil, err
	}
	known, err := json.Marshal(section)
	if err != nil {
		return nil, err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownKeys); err != nil {
		return nil, err
	}
	for k := range knownKeys {
		delete(all, k)
	}
	return all, nil
}

func (c *ExecutionConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.extras)+4)
	for k, v := range c.extras {
		out[k] = v
	}
	sections := map[string]any{
		"execution": c.Execution,
		"marking":   c.Marking,
		"project":   c.Project,
		"coverage":  c.Coverage,
	}
	for name, section := range sections {
		merged, err := mergeSection(section, c.sectionExtras[name])
		if err != nil {
			return nil, err
		}
		out[name] = merged
	}
	// encoding/json sorts map keys, so output is deterministic.
	return json.Marshal(out)
}

// mergeSection re-attaches a section's unknown keys; mapped fields win.
func mergeSection(section any, extras map[string]json.RawMessage) (any, error) {
	if len(extras) == 0 {
		return section, nil
	}
	data, err := json.Marshal(section)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range extras {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return m, nil
}

// Validate checks the invariants the rest of the pipeline relies on.
func (c *ExecutionConfig) Validate() error {
	if c.Execution.TimeoutSecs == 0 {
		return faults.New(faults.ConfigInvalid, "timeout_secs must be positive")
	}
	if c.Execution.MaxMemory == 0 || c.Execution.MaxCpus == 0 ||
		c.Execution.MaxUncompressedSize == 0 || c.Execution.MaxProcesses == 0 {
		return faults.New(faults.ConfigInvalid, "all execution limits must be positive")
	}
	if c.Marking.Delimiter == "" {
		return faults.New(faults.ConfigInvalid, "deliminator must not be empty")
	}
	if !knownSchemes.Contains(c.Marking.Scheme) {
		return faults.New(faults.ConfigInvalid, "unknown marking_scheme %q", c.Marking.Scheme)
	}
	if !knownFeedbacks.Contains(c.Marking.Feedback) {
		return faults.New(faults.ConfigInvalid, "unknown feedback_scheme %q", c.Marking.Feedback)
	}
	if !knownPolicies.Contains(c.Marking.GradingPolicy) {
		return faults.New(faults.ConfigInvalid, "unknown grading_policy %q", c.Marking.GradingPolicy)
	}
	if c.Marking.PassMark < 0 || c.Marking.PassMark > 100 {
		return faults.New(faults.ConfigInvalid, "pass_mark %v outside [0,100]", c.Marking.PassMark)
	}
	if c.Marking.MaxDiffLines == 0 {
		return faults.New(faults.ConfigInvalid, "max_diff_lines must be positive")
	}
	if _, ok := langs.Get(c.Project.Language); !ok {
		return faults.New(faults.ConfigInvalid, "unknown language %q", c.Project.Language)
	}
	return nil
}

// Warnings reports non-fatal oddities. anyTaskCoverage says whether at least
// one task of the assignment declares code_coverage.
func (c *ExecutionConfig) Warnings(anyTaskCoverage bool) []string {
	var warns []string
	if c.Coverage.Enabled && !anyTaskCoverage {
		warns = append(warns, "coverage enabled but no task declares code_coverage")
	}
	return warns
}

// Language returns the resolved language spec. Call after Validate.
func (c *ExecutionConfig) Language() langs.Spec {
	spec, _ := langs.Get(c.Project.Language)
	return spec
}

// Load reads the assignment config from dir. A file named config.json wins;
// otherwise the lexicographically first *.json is used (the store writes one
// config per assignment under a generated file id).
func Load(dir string) (*ExecutionConfig, error) {
	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); err != nil {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, faults.Wrap(faults.ConfigInvalid, err, "reading config dir")
		}
		var candidates []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				candidates = append(candidates, e.Name())
			}
		}
		if len(candidates) == 0 {
			return nil, faults.New(faults.ConfigInvalid, "no config json in %s", dir)
		}
		sort.Strings(candidates)
		path = filepath.Join(dir, candidates[0])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrap(faults.ConfigInvalid, err, "reading config file")
	}
	cfg := &ExecutionConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, faults.Wrap(faults.ConfigInvalid, err, "parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON to path.
func Save(cfg *ExecutionConfig, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
