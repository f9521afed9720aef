package natsgath

import (
	"github.com/nats-io/nats.go"
)

type natsGatherer struct {
	nc    *nats.Conn
	inbox string
	jobID string
}

// Message envelopes, discriminated by msg_type.

type startGradingMsg struct {
	JobID        string `json:"job_id"`
	MsgType      string `json:"msg_type"`
	SubmissionID string `json:"submission_id"`
	TaskCount    int    `json:"task_count"`
}

type startTaskMsg struct {
	JobID      string `json:"job_id"`
	MsgType    string `json:"msg_type"`
	TaskNumber int    `json:"task_number"`
	TaskName   string `json:"task_name"`
}

type finishTaskMsg struct {
	JobID      string   `json:"job_id"`
	MsgType    string   `json:"msg_type"`
	TaskNumber int      `json:"task_number"`
	Status     string   `json:"status"`
	Earned     uint32   `json:"earned"`
	Possible   uint32   `json:"possible"`
	Feedback   []string `json:"feedback,omitempty"`
	Flags      []string `json:"flags,omitempty"`
}

type finishGradingMsg struct {
	JobID   string  `json:"job_id"`
	MsgType string  `json:"msg_type"`
	Earned  *uint32 `json:"earned,omitempty"`
	Total   *uint32 `json:"total,omitempty"`
	Error   *string `json:"error,omitempty"`
	// Reason is the student-visible failure message from the fixed
	// catalogue; Error is operator detail.
	Reason string `json:"reason,omitempty"`
}

const (
	msgTypeStartGrading  = "started_grading"
	msgTypeStartTask     = "started_task"
	msgTypeFinishTask    = "finished_task"
	msgTypeFinishGrading = "finished_grading"
)
