package sandbox

// TaskStatus is the per-task state machine. Terminal on Done, and on
// HostError once retries are exhausted.
type TaskStatus string

const (
	StatusPending        TaskStatus = "pending"
	StatusComposing      TaskStatus = "composing"
	StatusRunning        TaskStatus = "running"
	StatusCompleted      TaskStatus = "completed"
	StatusTimeout        TaskStatus = "timeout"
	StatusOOM            TaskStatus = "oom"
	StatusHostError      TaskStatus = "host_error"
	StatusDisallowedCode TaskStatus = "disallowed_code"
	StatusScored         TaskStatus = "scored"
	StatusDone           TaskStatus = "done"
)
