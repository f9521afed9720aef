package grader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fitchfork/grader/api"
	"github.com/fitchfork/grader/internal/allocator"
	"github.com/fitchfork/grader/internal/complexity"
	"github.com/fitchfork/grader/internal/compose"
	"github.com/fitchfork/grader/internal/config"
	"github.com/fitchfork/grader/internal/coverage"
	"github.com/fitchfork/grader/internal/faults"
	"github.com/fitchfork/grader/internal/langs"
	"github.com/fitchfork/grader/internal/sandbox"
	"github.com/fitchfork/grader/internal/scheme"
	"github.com/fitchfork/grader/internal/split"
	"github.com/fitchfork/grader/internal/storage"
)

// feedbackMissing is the fixed feedback for memo subsections the student
// never emitted.
const feedbackMissing = "subsection_missing"

type taskOutcome struct {
	report *api.TaskReport
	// adjustedEarned is the task's contribution to the submission mark
	// after coverage scaling; subsection rows keep the raw values.
	adjustedEarned uint32
	status         sandbox.TaskStatus
}

// gradeTask drives one task through compose, sandbox, split, score and the
// adjusters. Per-task faults become zero-score reports; the only error
// returns are context cancellation.
func (g *Grader) gradeTask(
	ctx context.Context,
	job *api.GradeJob,
	task api.Task,
	cfg *config.ExecutionConfig,
	alloc *allocator.Allocator,
	memoOutputs map[int]string,
	files assignmentFiles,
	scratchRoot string,
) (taskOutcome, error) {
	entry, _ := alloc.Task(task.TaskNumber)

	// Disallowed-code scan happens before anything touches the sandbox.
	if found, err := compose.ScanDisallowed(files.submission, cfg.Marking.DisallowedCode); err != nil {
		g.Log.Warn("disallowed-code scan failed", "job", job.JobID, "task", task.TaskNumber, "err", err)
		return g.faultOutcome(task.TaskNumber, entry, err, sandbox.StatusHostError), nil
	} else if found != "" {
		g.Log.Info("submission contains disallowed code",
			"job", job.JobID, "task", task.TaskNumber, "literal", found)
		return g.faultOutcome(task.TaskNumber, entry, faults.New(faults.DisallowedCode, "found %q", found), sandbox.StatusDisallowedCode), nil
	}

	taskDir := filepath.Join(scratchRoot, fmt.Sprintf("task_%d", task.TaskNumber))
	scratch := filepath.Join(taskDir, "code")
	outDir := filepath.Join(taskDir, "output")
	for _, dir := range []string{scratch, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return taskOutcome{}, err
		}
	}
	defer os.RemoveAll(taskDir)

	composer := &compose.Composer{
		Lang:            cfg.Language().Lang,
		MaxUncompressed: cfg.Execution.MaxUncompressedSize,
	}
	err := composer.Compose(scratch, compose.Inputs{
		Memo:         files.memo,
		Main:         files.main,
		Submission:   files.submission,
		Makefile:     files.makefile,
		Interpreter:  files.interpreter,
		OverwriteDir: g.Store.OverwriteDir(job.ModuleID, job.AssignmentID, task.TaskNumber),
	})
	if err != nil {
		if ctx.Err() != nil {
			return taskOutcome{}, ctx.Err()
		}
		g.Log.Info("compose failed", "job", job.JobID, "task", task.TaskNumber, "err", err)
		return g.faultOutcome(task.TaskNumber, entry, err, sandbox.StatusHostError), nil
	}

	if g.Slots != nil {
		if err := g.Slots.Acquire(ctx); err != nil {
			return taskOutcome{}, err
		}
		defer g.Slots.Release()
	}

	res, err := sandbox.RunWithRetry(ctx, g.Runner, sandbox.Request{
		JobID:      uuid.NewString(),
		ScratchDir: scratch,
		OutputDir:  outDir,
		Command:    task.Command,
		Limits: sandbox.Limits{
			Timeout:        time.Duration(cfg.Execution.TimeoutSecs) * time.Second,
			MaxMemoryBytes: cfg.Execution.MaxMemory,
			MaxCpus:        cfg.Execution.MaxCpus,
			MaxProcesses:   cfg.Execution.MaxProcesses,
		},
	}, g.Log)
	if err != nil {
		if ctx.Err() != nil {
			return taskOutcome{}, ctx.Err()
		}
		g.Log.Error("sandbox host error", "job", job.JobID, "task", task.TaskNumber, "err", err)
		outcome := g.faultOutcome(task.TaskNumber, entry, err, sandbox.StatusHostError)
		outcome.report.HostError = true
		return outcome, nil
	}

	status := sandbox.StatusCompleted
	switch {
	case res.TimedOut:
		status = sandbox.StatusTimeout
	case res.OOMKilled:
		status = sandbox.StatusOOM
	}

	// Captured stdout is kept alongside the report for later inspection.
	outPath := g.Store.SubmissionOutputPath(job.ModuleID, job.AssignmentID, job.UserID, job.Attempt, task.TaskNumber)
	if err := storage.WriteFileAtomic(outPath, []byte(res.Stdout)); err != nil {
		g.Log.Warn("writing task output failed", "job", job.JobID, "task", task.TaskNumber, "err", err)
	}

	// Timeouts, OOM kills and non-zero exits all score normally on whatever
	// stdout the run produced.
	report, rawEarned := g.scoreTask(job, task, cfg, entry, memoOutputs, res.Stdout)
	adjusted := g.applyCoverage(job, task, report, rawEarned, res)
	report.ComplexityFlags = g.complexityFlags(job, task, res)

	return taskOutcome{report: report, adjustedEarned: adjusted, status: status}, nil
}

// scoreTask pairs the allocator's criteria with the student's sections.
func (g *Grader) scoreTask(
	job *api.GradeJob,
	task api.Task,
	cfg *config.ExecutionConfig,
	entry allocator.TaskEntry,
	memoOutputs map[int]string,
	stdout string,
) (*api.TaskReport, uint32) {
	memo := memoSections(memoOutputs, task.TaskNumber, cfg.Marking.Delimiter)
	student, warnings := split.Split(stdout, cfg.Marking.Delimiter)
	for _, w := range warnings {
		g.Log.Info("splitter warning", "job", job.JobID, "task", task.TaskNumber, "warning", w)
	}
	if len(student) == 0 && langs.IsCompileCommand(task.Command) {
		g.Log.Info("task command is compile-only, no output sections expected",
			"job", job.JobID, "task", task.TaskNumber, "command", task.Command)
	}

	report := &api.TaskReport{
		TaskNumber:      task.TaskNumber,
		Subsections:     make([]api.SubsectionReport, 0, len(entry.Criteria)),
		ComplexityFlags: []string{},
	}
	var rawEarned uint32
	scored := make(map[string]bool, len(entry.Criteria))
	for _, crit := range entry.Criteria {
		scored[crit.Name] = true
		sub := api.SubsectionReport{Name: crit.Name, Possible: crit.Weight}

		studentSec, ok := split.Find(student, crit.Name)
		if !ok {
			sub.Feedback = feedbackMissing
			report.Subsections = append(report.Subsections, sub)
			continue
		}
		memoBody := ""
		if memoSec, ok := split.Find(memo, crit.Name); ok {
			memoBody = memoSec.Body
		}
		res := scheme.Score(memoBody, studentSec.Body, crit.Weight,
			cfg.Marking.Scheme, crit.Compiled(), cfg.Marking.Feedback, cfg.Marking.MaxDiffLines)
		sub.Earned = res.Earned
		sub.Feedback = res.Feedback
		sub.FlagAI = res.FlagAI
		rawEarned += res.Earned
		report.Subsections = append(report.Subsections, sub)
	}

	// Extra student sections are informational only, never scored.
	for _, sec := range student {
		if !scored[sec.Name] {
			g.Log.Info("unscored extra subsection",
				"job", job.JobID, "task", task.TaskNumber, "name", sec.Name)
		}
	}
	return report, rawEarned
}

// applyCoverage scales rawEarned by the run's measured coverage. The JSON
// sidecar wins; instrumented C++ runs emit raw gcov text instead, which is
// converted on the fly.
func (g *Grader) applyCoverage(job *api.GradeJob, task api.Task, report *api.TaskReport, rawEarned uint32, res *sandbox.Result) uint32 {
	if !task.CodeCoverage {
		return rawEarned
	}
	var rep *coverage.Report
	switch {
	case res.CoverageJSON != nil:
		parsed, err := coverage.Parse(res.CoverageJSON)
		if err != nil {
			g.Log.Warn("coverage sidecar malformed, adjustment skipped",
				"job", job.JobID, "task", task.TaskNumber, "err", err)
			return rawEarned
		}
		rep = parsed
	case res.GcovText != "":
		parsed := coverage.ParseGcovText(res.GcovText)
		if parsed.Summary.TotalFiles == 0 {
			g.Log.Warn("gcov sidecar has no file records, adjustment skipped",
				"job", job.JobID, "task", task.TaskNumber)
			return rawEarned
		}
		rep = parsed
	default:
		g.Log.Warn("coverage sidecar absent for coverage task",
			"job", job.JobID, "task", task.TaskNumber)
		return rawEarned
	}
	report.CoverageApplied = true
	return coverage.Apply(rawEarned, rep)
}

func (g *Grader) complexityFlags(job *api.GradeJob, task api.Task, res *sandbox.Result) []string {
	flags := []string{}
	if res.ComplexityJSON != nil {
		rep, err := complexity.Parse(res.ComplexityJSON)
		if err != nil {
			g.Log.Warn("complexity sidecar malformed, flags skipped",
				"job", job.JobID, "task", task.TaskNumber, "err", err)
		} else {
			flags = append(flags, complexity.Flags(rep, g.ComplexityThresholds)...)
		}
	}
	if leaked := complexity.ScanLeaks(res.Stderr); leaked > 0 {
		flags = append(flags, complexity.LeakFlag(leaked))
	}
	return flags
}

// faultOutcome renders a pre-run fault as a zero-score task report whose
// subsections carry the fault tag as feedback.
func (g *Grader) faultOutcome(taskNumber int, entry allocator.TaskEntry, err error, status sandbox.TaskStatus) taskOutcome {
	tag := string(faults.KindOf(err))
	if tag == "" {
		tag = string(faults.SandboxHostError)
	}
	report := &api.TaskReport{
		TaskNumber:      taskNumber,
		Subsections:     make([]api.SubsectionReport, 0, len(entry.Criteria)),
		ComplexityFlags: []string{},
	}
	for _, crit := range entry.Criteria {
		report.Subsections = append(report.Subsections, api.SubsectionReport{
			Name:     crit.Name,
			Possible: crit.Weight,
			Feedback: tag,
		})
	}
	return taskOutcome{report: report, status: status}
}
