// Package api holds the wire types shared with the platform's other
// services: the grade job consumed from the queue and the submission report
// this service produces.
package api

// Task is one instructor-defined program invocation.
type Task struct {
	// TaskNumber is 1-based and unique per assignment.
	TaskNumber int    `json:"task_number"`
	Name       string `json:"name"`
	// Command is an opaque shell string; the sandbox runs it via `sh -c`.
	Command string `json:"command"`
	// CodeCoverage enables coverage scaling for this task.
	CodeCoverage bool `json:"code_coverage"`
}

// RemoteFile names an S3 object the grader must mirror into the local
// store before grading. Path is relative to the storage root.
type RemoteFile struct {
	Url  string `json:"url"`
	Path string `json:"path"`
}

// GradeJob is one grading request. The task list is owned by the platform
// database and travels with the job.
type GradeJob struct {
	JobID        string `json:"job_id"`
	ModuleID     int64  `json:"module_id"`
	AssignmentID int64  `json:"assignment_id"`
	UserID       int64  `json:"user_id"`
	Attempt      int    `json:"attempt"`
	SubmissionID string `json:"submission_id"`
	// IsPractice and Ignored are attempt metadata the platform tracks;
	// grading treats all attempts identically.
	IsPractice bool   `json:"is_practice"`
	Ignored    bool   `json:"ignored"`
	Tasks      []Task `json:"tasks"`

	// Files are the blobs to mirror from S3 before grading: the submission
	// archive and any assignment files not yet present on this worker.
	Files []RemoteFile `json:"files,omitempty"`

	// ReplyInbox is the NATS subject progress events stream to; empty
	// disables streaming for this job.
	ReplyInbox string `json:"reply_inbox,omitempty"`
}

// Submission status values as stored by the platform.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusGraded  = "graded"
	StatusFailed  = "failed"
)
