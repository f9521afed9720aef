// Package behave runs marking scenarios described in TOML files through the
// pure split/allocate/score pipeline, without composing archives or touching
// a sandbox. Scenario files pin grading behaviour down end to end: given a
// memo stdout and a student stdout, these marks come out.
package behave

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/fitchfork/grader/internal/allocator"
	"github.com/fitchfork/grader/internal/config"
	"github.com/fitchfork/grader/internal/scheme"
	"github.com/fitchfork/grader/internal/split"
)

// SpecWeight overrides the weight (and optional regex) of one subsection.
type SpecWeight struct {
	Name   string `toml:"name"`
	Weight uint32 `toml:"weight"`
	Regex  string `toml:"regex"`
}

// SpecTask is one task inside a scenario run block.
type SpecTask struct {
	TaskNumber int          `toml:"task_number"`
	Name       string       `toml:"name"`
	Memo       string       `toml:"memo"`
	Student    string       `toml:"student"`
	Weights    []SpecWeight `toml:"weights"`
}

// SpecRun represents a run block inside a scenario entry.
type SpecRun struct {
	Scheme   string     `toml:"scheme"`
	Feedback string     `toml:"feedback"`
	Tasks    []SpecTask `toml:"tasks"`
}

// SpecTaskExpect is the expected mark for one task.
type SpecTaskExpect struct {
	TaskNumber int    `toml:"task_number"`
	Earned     uint32 `toml:"earned"`
}

// SpecExpect describes the expected submission mark and per-task marks.
type SpecExpect struct {
	Earned uint32           `toml:"earned"`
	Total  uint32           `toml:"total"`
	Tasks  []SpecTaskExpect `toml:"tasks"`
}

// specSuite maps to [[scenarios]] entries. The run block is written as an
// array-of-table, so we model it as a slice and use the first element.
type specSuite struct {
	Description string     `toml:"description"`
	RunAOT      []SpecRun  `toml:"run"`
	Expect      SpecExpect `toml:"expect"`
}

type specRoot struct {
	Delimiter string      `toml:"delimiter"`
	Suites    []specSuite `toml:"scenarios"`
}

// Case is a runnable scenario converted from TOML.
type Case struct {
	ID        string
	Name      string
	Delimiter string
	Scheme    config.Scheme
	Feedback  config.Feedback
	Tasks     []SpecTask
	Expect    SpecExpect
}

// TaskMark is the scored result of one task within a case.
type TaskMark struct {
	TaskNumber int
	Earned     uint32
	Possible   uint32
}

// Outcome is what running a case produced.
type Outcome struct {
	Earned uint32
	Total  uint32
	Tasks  []TaskMark
}

// Parse reads a behaviour TOML file and converts it to runnable cases.
func Parse(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	delim := root.Delimiter
	if delim == "" {
		delim = config.Default().Marking.Delimiter
	}

	cases := make([]Case, 0, len(root.Suites))
	for _, suite := range root.Suites {
		if len(suite.RunAOT) == 0 {
			return nil, fmt.Errorf("scenario entry is missing run block")
		}
		run := suite.RunAOT[0]

		sch := config.Scheme(run.Scheme)
		if run.Scheme == "" {
			sch = config.SchemeExact
		}
		fb := config.Feedback(run.Feedback)
		if run.Feedback == "" {
			fb = config.FeedbackAuto
		}
		switch sch {
		case config.SchemeExact, config.SchemePercentage, config.SchemeRegex:
		default:
			return nil, fmt.Errorf("scenario %q: unknown scheme %q", suite.Description, run.Scheme)
		}

		if len(run.Tasks) == 0 {
			return nil, fmt.Errorf("scenario %q has no tasks", suite.Description)
		}
		cases = append(cases, Case{
			ID:        uuid.NewString(),
			Name:      suite.Description,
			Delimiter: delim,
			Scheme:    sch,
			Feedback:  fb,
			Tasks:     run.Tasks,
			Expect:    suite.Expect,
		})
	}
	return cases, nil
}

// Run scores one case: derive an allocator from the memo outputs, apply the
// weight overrides, then score the student stdout task by task.
func Run(c Case) (*Outcome, error) {
	outputs := make([]allocator.MemoOutput, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		outputs = append(outputs, allocator.MemoOutput{
			TaskNumber: t.TaskNumber,
			Name:       t.Name,
			Stdout:     t.Memo,
		})
	}
	alloc := allocator.BuildFromMemo(outputs, c.Delimiter)
	alloc, err := applyWeights(alloc, c.Tasks)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Total: alloc.TotalWeight}
	for _, t := range c.Tasks {
		entry, _ := alloc.Task(t.TaskNumber)
		memo, _ := split.Split(t.Memo, c.Delimiter)
		student, _ := split.Split(t.Student, c.Delimiter)

		mark := TaskMark{TaskNumber: t.TaskNumber, Possible: entry.Weight}
		for _, crit := range entry.Criteria {
			studentSec, ok := split.Find(student, crit.Name)
			if !ok {
				continue
			}
			memoBody := ""
			if memoSec, ok := split.Find(memo, crit.Name); ok {
				memoBody = memoSec.Body
			}
			res := scheme.Score(memoBody, studentSec.Body, crit.Weight, c.Scheme, crit.Compiled(), c.Feedback, 0)
			mark.Earned += res.Earned
		}
		out.Earned += mark.Earned
		out.Tasks = append(out.Tasks, mark)
	}
	return out, nil
}

// Check compares an outcome with the case's expectation and reports one
// string per deviation.
func Check(c Case, out *Outcome) []string {
	var problems []string
	if out.Earned != c.Expect.Earned {
		problems = append(problems, fmt.Sprintf("earned %d, expected %d", out.Earned, c.Expect.Earned))
	}
	if out.Total != c.Expect.Total {
		problems = append(problems, fmt.Sprintf("total %d, expected %d", out.Total, c.Expect.Total))
	}
	got := make(map[int]uint32, len(out.Tasks))
	for _, t := range out.Tasks {
		got[t.TaskNumber] = t.Earned
	}
	for _, want := range c.Expect.Tasks {
		if got[want.TaskNumber] != want.Earned {
			problems = append(problems, fmt.Sprintf(
				"task %d earned %d, expected %d", want.TaskNumber, got[want.TaskNumber], want.Earned))
		}
	}
	return problems
}

// applyWeights installs the per-subsection weight and regex overrides. The
// allocator round-trips through its codec so regex overrides compile the same
// way stored allocators do.
func applyWeights(alloc *allocator.Allocator, tasks []SpecTask) (*allocator.Allocator, error) {
	overridden := false
	for _, t := range tasks {
		if len(t.Weights) == 0 {
			continue
		}
		for ti := range alloc.Tasks {
			if alloc.Tasks[ti].TaskNumber != t.TaskNumber {
				continue
			}
			for _, w := range t.Weights {
				found := false
				for ci := range alloc.Tasks[ti].Criteria {
					if alloc.Tasks[ti].Criteria[ci].Name != w.Name {
						continue
					}
					found = true
					overridden = true
					alloc.Tasks[ti].Criteria[ci].Weight = w.Weight
					alloc.Tasks[ti].Criteria[ci].Regex = w.Regex
				}
				if !found {
					return nil, fmt.Errorf("task %d: weight override for unknown subsection %q", t.TaskNumber, w.Name)
				}
			}
		}
	}
	if !overridden {
		return alloc, nil
	}

	tmp, err := os.CreateTemp("", "behave-alloc-*.json")
	if err != nil {
		return nil, err
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := allocator.Save(alloc, name); err != nil {
		return nil, err
	}
	loaded, warnings, err := allocator.Load(name)
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		return nil, fmt.Errorf("allocator warning: %s", warnings[0])
	}
	return loaded, nil
}
