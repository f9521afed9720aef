package api

// Mark is an earned/total pair.
type Mark struct {
	Earned uint32 `json:"earned"`
	Total  uint32 `json:"total"`
}

// SubsectionReport scores one named slice of a task's stdout.
type SubsectionReport struct {
	Name     string `json:"name"`
	Earned   uint32 `json:"earned"`
	Possible uint32 `json:"possible"`
	Feedback string `json:"feedback,omitempty"`
	// FlagAI marks the feedback for asynchronous AI enrichment.
	FlagAI bool `json:"flag_ai,omitempty"`
}

// TaskReport aggregates one task's subsections plus the adjuster outcomes.
type TaskReport struct {
	TaskNumber      int                `json:"task_number"`
	Subsections     []SubsectionReport `json:"subsections"`
	CoverageApplied bool               `json:"coverage_applied"`
	ComplexityFlags []string           `json:"complexity_flags"`
	HostError       bool               `json:"host_error,omitempty"`
}

// SubmissionReport is the persisted grading outcome for one attempt.
// Grading the same inputs twice yields byte-equal reports except for
// ProducedAt.
type SubmissionReport struct {
	Mark       Mark         `json:"mark"`
	Tasks      []TaskReport `json:"tasks"`
	ProducedAt string       `json:"produced_at"`
}
