// Package grader orchestrates one grading run: compose each task's scratch
// tree, execute it in the sandbox, split and score the output, apply the
// adjusters and persist the submission report.
package grader

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fitchfork/grader/api"
	"github.com/fitchfork/grader/internal/allocator"
	"github.com/fitchfork/grader/internal/complexity"
	"github.com/fitchfork/grader/internal/config"
	"github.com/fitchfork/grader/internal/faults"
	"github.com/fitchfork/grader/internal/gatherer"
	"github.com/fitchfork/grader/internal/sandbox"
	"github.com/fitchfork/grader/internal/split"
	"github.com/fitchfork/grader/internal/storage"
)

// taskOverhead pads the outer submission deadline beyond the sum of task
// timeouts: composition, container setup and teardown per task.
const taskOverhead = 10 * time.Second

type Grader struct {
	Store  *storage.Store
	Runner sandbox.Runner
	// Slots is the process-wide container cap; nil skips slot accounting
	// (one-shot CLI runs).
	Slots *sandbox.Slots
	Log   *slog.Logger

	// MaxTasksPerSubmission bounds in-submission fan-out. Zero means 1,
	// the deterministic default.
	MaxTasksPerSubmission int

	ComplexityThresholds complexity.Thresholds
}

// assignmentFiles are the resolved blob-store inputs of one run.
type assignmentFiles struct {
	submission  string
	memo        string
	main        string
	makefile    string
	interpreter string
}

// Grade runs every task of the job and persists the submission report. Task
// results merge in task-number order regardless of completion order. An
// error return means no usable report could be produced or persisted; all
// per-task failures are recorded inside the report instead.
func (g *Grader) Grade(ctx context.Context, job *api.GradeJob, gath gatherer.Gatherer) (*api.SubmissionReport, error) {
	cfg, err := config.Load(g.Store.ConfigDir(job.ModuleID, job.AssignmentID))
	if err != nil {
		gath.FinishGrading(nil, err)
		return nil, err
	}

	alloc, warnings, err := allocator.Load(g.Store.AllocatorPath(job.ModuleID, job.AssignmentID))
	if err != nil {
		gath.FinishGrading(nil, err)
		return nil, err
	}
	for _, w := range warnings {
		g.Log.Warn("allocator warning", "job", job.JobID, "warning", w)
	}

	anyCoverage := false
	for _, t := range job.Tasks {
		anyCoverage = anyCoverage || t.CodeCoverage
	}
	for _, w := range cfg.Warnings(anyCoverage) {
		g.Log.Warn("config warning", "job", job.JobID, "warning", w)
	}

	files, err := g.resolveFiles(job)
	if err != nil {
		gath.FinishGrading(nil, err)
		return nil, err
	}

	memoOutputs, err := g.Store.MemoOutputs(job.ModuleID, job.AssignmentID)
	if err != nil {
		gath.FinishGrading(nil, err)
		return nil, err
	}

	tasks := make([]api.Task, len(job.Tasks))
	copy(tasks, job.Tasks)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskNumber < tasks[j].TaskNumber })

	timeout := time.Duration(cfg.Execution.TimeoutSecs) * time.Second
	outer := time.Duration(len(tasks))*(timeout+taskOverhead) + taskOverhead
	runCtx, cancel := context.WithTimeout(ctx, outer)
	defer cancel()

	scratchRoot, err := os.MkdirTemp("", "grader-"+job.JobID+"-*")
	if err != nil {
		gath.FinishGrading(nil, err)
		return nil, err
	}
	defer os.RemoveAll(scratchRoot)

	gath.StartGrading(job)

	fanout := g.MaxTasksPerSubmission
	if fanout < 1 {
		fanout = 1
	}
	eg, egCtx := errgroup.WithContext(runCtx)
	eg.SetLimit(fanout)

	results := make([]taskOutcome, len(tasks))
	for i, task := range tasks {
		i, task := i, task
		eg.Go(func() error {
			gath.StartTask(task.TaskNumber, task.Name)
			outcome, err := g.gradeTask(egCtx, job, task, cfg, alloc, memoOutputs, files, scratchRoot)
			if err != nil {
				return err
			}
			results[i] = outcome
			gath.FinishTask(task.TaskNumber, string(outcome.status), outcome.report)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		gath.FinishGrading(nil, err)
		return nil, err
	}

	report := &api.SubmissionReport{
		Mark:       api.Mark{Total: alloc.TotalWeight},
		Tasks:      make([]api.TaskReport, 0, len(results)),
		ProducedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, outcome := range results {
		report.Mark.Earned += outcome.adjustedEarned
		report.Tasks = append(report.Tasks, *outcome.report)
	}

	if err := g.persistReport(job, report); err != nil {
		gath.FinishGrading(report, err)
		return report, err
	}
	gath.FinishGrading(report, nil)
	return report, nil
}

func (g *Grader) resolveFiles(job *api.GradeJob) (assignmentFiles, error) {
	submission, err := g.Store.SubmissionArchive(job.ModuleID, job.AssignmentID, job.UserID, job.Attempt)
	if err != nil {
		return assignmentFiles{}, faults.Wrap(faults.ArchiveMalformed, err, "locating submission")
	}
	return assignmentFiles{
		submission:  submission,
		memo:        g.Store.FindArchive(g.Store.MemoDir(job.ModuleID, job.AssignmentID)),
		main:        g.Store.FindArchive(g.Store.MainDir(job.ModuleID, job.AssignmentID)),
		makefile:    g.Store.FindArchive(g.Store.MakefileDir(job.ModuleID, job.AssignmentID)),
		interpreter: g.Store.FindArchive(g.Store.InterpreterDir(job.ModuleID, job.AssignmentID)),
	}, nil
}

// persistReport writes the report atomically, retrying the rewrite once.
func (g *Grader) persistReport(job *api.GradeJob, report *api.SubmissionReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return faults.Wrap(faults.ReportWriteFailed, err, "encoding report")
	}
	path := g.Store.ReportPath(job.ModuleID, job.AssignmentID, job.UserID, job.Attempt)
	if err := storage.WriteFileAtomic(path, data); err != nil {
		g.Log.Warn("report write failed, retrying", "job", job.JobID, "err", err)
		if err := storage.WriteFileAtomic(path, data); err != nil {
			return faults.Wrap(faults.ReportWriteFailed, err, "writing report")
		}
	}
	return nil
}

// memoSections splits the stored memo output of one task.
func memoSections(memoOutputs map[int]string, taskNumber int, delim string) []split.Section {
	sections, _ := split.Split(memoOutputs[taskNumber], delim)
	return sections
}
