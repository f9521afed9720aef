// Package gatherer defines the progress-event sink the orchestrator streams
// grading lifecycle events to.
package gatherer

import "github.com/fitchfork/grader/api"

// Gatherer receives grading lifecycle events. Implementations must not
// block grading; slow sinks should buffer or drop.
type Gatherer interface {
	StartGrading(job *api.GradeJob)
	StartTask(taskNumber int, name string)
	FinishTask(taskNumber int, status string, report *api.TaskReport)
	FinishGrading(report *api.SubmissionReport, err error)
}

// Nop discards all events.
type Nop struct{}

func (Nop) StartGrading(*api.GradeJob)                 {}
func (Nop) StartTask(int, string)                      {}
func (Nop) FinishTask(int, string, *api.TaskReport)    {}
func (Nop) FinishGrading(*api.SubmissionReport, error) {}
