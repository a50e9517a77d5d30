package model

// JobState is the lifecycle state of the tracked job.
type JobState string

const (
	StateIdle       JobState = "idle"
	StateSubmitting JobState = "submitting"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// Terminal reports whether the state ends a job's lifecycle.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Active reports whether a job in this state still expects notifications.
func (s JobState) Active() bool {
	return s == StateSubmitting || s == StateProcessing
}

// ResultItem is one produced artifact, in arrival order.
type ResultItem struct {
	Name string `json:"file_name"`
	URI  string `json:"video_link"`
}

// Job is a point-in-time snapshot of the tracked unit of work. At most one
// job is tracked at a time; a new submission replaces the previous one.
type Job struct {
	ID           string       `json:"id"`
	State        JobState     `json:"state"`
	Progress     float64      `json:"progress"`
	CurrentStep  string       `json:"currentStep,omitempty"`
	Results      []ResultItem `json:"results"`
	BundleRef    string       `json:"bundleRef,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}
