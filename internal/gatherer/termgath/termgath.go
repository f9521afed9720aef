// Package termgath prints grading progress to the terminal, for the
// one-shot CLI and local development.
package termgath

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/fitchfork/grader/api"
	"github.com/fitchfork/grader/internal/faults"
)

type TerminalGatherer struct {
	StartedAt time.Time
}

func New() *TerminalGatherer { return &TerminalGatherer{StartedAt: time.Now()} }

var (
	okColor   = color.New(color.FgGreen)
	partColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func (t *TerminalGatherer) StartGrading(job *api.GradeJob) {
	fmt.Printf("== Grading submission %s (%d tasks) ==\n", job.SubmissionID, len(job.Tasks))
}

func (t *TerminalGatherer) StartTask(taskNumber int, name string) {
	fmt.Printf("-> Task %d: %s\n", taskNumber, name)
}

func (t *TerminalGatherer) FinishTask(taskNumber int, status string, report *api.TaskReport) {
	if report == nil {
		badColor.Printf("<- Task %d: %s\n", taskNumber, status)
		return
	}
	var earned, possible uint32
	for _, sub := range report.Subsections {
		earned += sub.Earned
		possible += sub.Possible
	}
	line := fmt.Sprintf("<- Task %d: %s, %d/%d", taskNumber, status, earned, possible)
	switch {
	case possible > 0 && earned == possible:
		okColor.Println(line)
	case earned > 0:
		partColor.Println(line)
	default:
		badColor.Println(line)
	}
	for _, sub := range report.Subsections {
		fmt.Printf("   %-20s %d/%d", sub.Name, sub.Earned, sub.Possible)
		if sub.Feedback != "" {
			dimColor.Printf("  %s", firstLine(sub.Feedback))
		}
		fmt.Println()
	}
	for _, flag := range report.ComplexityFlags {
		partColor.Printf("   flag: %s\n", flag)
	}
}

func (t *TerminalGatherer) FinishGrading(report *api.SubmissionReport, err error) {
	dur := time.Since(t.StartedAt).Round(time.Millisecond)
	if err != nil {
		badColor.Printf("== Grading failed after %s: %v ==\n", dur, err)
		dimColor.Printf("   reported to student as: %s\n", faults.StudentMessage(faults.KindOf(err)))
		return
	}
	fmt.Printf("== Grading finished in %s: %d/%d ==\n", dur, report.Mark.Earned, report.Mark.Total)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i] + " [...]"
		}
	}
	return s
}
