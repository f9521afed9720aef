// Package allocator owns the per-assignment weighted tree mapping tasks to
// subsections. It is derived from memo outputs, persisted as allocator.json,
// and answers (task, subsection) -> possible marks during grading.
package allocator

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fitchfork/grader/internal/faults"
	"github.com/fitchfork/grader/internal/scheme"
	"github.com/fitchfork/grader/internal/split"
)

// DefaultMarksPerSubsection is assigned to every subsection on first
// derivation; instructors adjust weights afterwards.
const DefaultMarksPerSubsection uint32 = 1

// Criterion is one scorable subsection of a task. Weight is the subsection's
// possible marks. Regex is only meaningful under the regex marking scheme.
type Criterion struct {
	Name   string `json:"name"`
	Weight uint32 `json:"weight"`
	Regex  string `json:"regex,omitempty"`

	re *regexp.Regexp
}

// Compiled returns the precompiled full-string pattern, or nil when the
// criterion has none (or it failed to compile at load time).
func (c *Criterion) Compiled() *regexp.Regexp { return c.re }

type TaskEntry struct {
	TaskNumber int         `json:"task_number"`
	Name       string      `json:"name"`
	Weight     uint32      `json:"weight"`
	Criteria   []Criterion `json:"criteria"`
}

type Allocator struct {
	Tasks       []TaskEntry `json:"tasks"`
	TotalWeight uint32      `json:"total_weight"`
	GeneratedAt string      `json:"generated_at,omitempty"`
}

// MemoOutput pairs a task with its canonical memo stdout.
type MemoOutput struct {
	TaskNumber int
	Name       string
	Stdout     string
}

// BuildFromMemo derives a fresh allocator by splitting each memo output on
// the delimiter. A task with no sections contributes an empty entry (a
// no-output task that scores 0/0).
func BuildFromMemo(outputs []MemoOutput, delim string) *Allocator {
	alloc := &Allocator{GeneratedAt: time.Now().UTC().Format(time.RFC3339)}
	for _, out := range outputs {
		sections, _ := split.Split(out.Stdout, delim)
		entry := TaskEntry{
			TaskNumber: out.TaskNumber,
			Name:       out.Name,
			Criteria:   make([]Criterion, 0, len(sections)),
		}
		for _, s := range sections {
			entry.Criteria = append(entry.Criteria, Criterion{
				Name:   s.Name,
				Weight: DefaultMarksPerSubsection,
			})
		}
		entry.Weight = criteriaSum(entry.Criteria)
		alloc.Tasks = append(alloc.Tasks, entry)
	}
	alloc.TotalWeight = alloc.totalWeight()
	return alloc
}

// Merge re-derives subsections from fresh memo outputs while treating the
// stored allocator's weights as authoritative. New subsections get the
// default weight; subsections no longer in the memo are dropped.
func Merge(stored *Allocator, outputs []MemoOutput, delim string) *Allocator {
	fresh := BuildFromMemo(outputs, delim)
	if stored == nil {
		return fresh
	}

	storedTasks := make(map[int]TaskEntry, len(stored.Tasks))
	for _, t := range stored.Tasks {
		storedTasks[t.TaskNumber] = t
	}

	for ti := range fresh.Tasks {
		prev, ok := storedTasks[fresh.Tasks[ti].TaskNumber]
		if !ok {
			continue
		}
		prevCrit := make(map[string]Criterion, len(prev.Criteria))
		for _, c := range prev.Criteria {
			prevCrit[c.Name] = c
		}
		for ci := range fresh.Tasks[ti].Criteria {
			if pc, ok := prevCrit[fresh.Tasks[ti].Criteria[ci].Name]; ok {
				fresh.Tasks[ti].Criteria[ci].Weight = pc.Weight
				fresh.Tasks[ti].Criteria[ci].Regex = pc.Regex
			}
		}
		fresh.Tasks[ti].Weight = criteriaSum(fresh.Tasks[ti].Criteria)
	}
	fresh.TotalWeight = fresh.totalWeight()
	return fresh
}

// Validate checks the allocator invariants.
func (a *Allocator) Validate() error {
	seen := mapset.NewSet[int]()
	for _, task := range a.Tasks {
		if task.TaskNumber < 1 {
			return faults.New(faults.AllocatorInvalid, "task number %d is not 1-based", task.TaskNumber)
		}
		if !seen.Add(task.TaskNumber) {
			return faults.New(faults.AllocatorInvalid, "duplicate task number %d", task.TaskNumber)
		}
		names := mapset.NewSet[string]()
		for _, c := range task.Criteria {
			if c.Name == "" {
				return faults.New(faults.AllocatorInvalid, "task %d has an unnamed criterion", task.TaskNumber)
			}
			if !names.Add(c.Name) {
				return faults.New(faults.AllocatorInvalid, "task %d has duplicate criterion %q", task.TaskNumber, c.Name)
			}
		}
	}
	if a.TotalWeight != a.totalWeight() {
		return faults.New(faults.AllocatorInvalid, "total_weight %d does not match criteria sum %d", a.TotalWeight, a.totalWeight())
	}
	return nil
}

// Task returns the entry for a task number.
func (a *Allocator) Task(taskNumber int) (TaskEntry, bool) {
	for _, t := range a.Tasks {
		if t.TaskNumber == taskNumber {
			return t, true
		}
	}
	return TaskEntry{}, false
}

func (a *Allocator) totalWeight() uint32 {
	var total uint32
	for _, t := range a.Tasks {
		total += criteriaSum(t.Criteria)
	}
	return total
}

func criteriaSum(criteria []Criterion) uint32 {
	var sum uint32
	for _, c := range criteria {
		sum += c.Weight
	}
	return sum
}

// Load reads allocator.json from path, validates it and compiles regex
// criteria. An invalid pattern is dropped (the criterion falls back to exact
// matching) and reported in the returned warnings.
func Load(path string) (*Allocator, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, faults.Wrap(faults.AllocatorInvalid, err, "reading allocator file")
	}
	var alloc Allocator
	if err := json.Unmarshal(data, &alloc); err != nil {
		return nil, nil, faults.Wrap(faults.AllocatorInvalid, err, "parsing allocator file")
	}
	// A task's weight defaults to the sum of its criteria when unset.
	for i := range alloc.Tasks {
		if alloc.Tasks[i].Weight == 0 {
			alloc.Tasks[i].Weight = criteriaSum(alloc.Tasks[i].Criteria)
		}
	}
	if alloc.TotalWeight == 0 {
		alloc.TotalWeight = alloc.totalWeight()
	}
	if err := alloc.Validate(); err != nil {
		return nil, nil, err
	}

	var warnings []string
	for ti := range alloc.Tasks {
		for ci := range alloc.Tasks[ti].Criteria {
			c := &alloc.Tasks[ti].Criteria[ci]
			if c.Regex == "" {
				continue
			}
			re, err := scheme.CompileRegex(c.Regex)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"task %d criterion %q: invalid regex, falling back to exact matching",
					alloc.Tasks[ti].TaskNumber, c.Name))
				continue
			}
			c.re = re
		}
	}
	return &alloc, warnings, nil
}

// Save validates and writes the allocator atomically next to path.
func Save(alloc *Allocator, path string) error {
	alloc.TotalWeight = alloc.totalWeight()
	if err := alloc.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(alloc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
