package model

// Notification event types pushed over the shared channel.
const (
	EventVideoLink    = "video_link"
	EventProgress     = "progress"
	EventTaskComplete = "task_complete"
	EventZipComplete  = "zip_complete"
	EventError        = "error"
)

// Envelope is a single notification message. The channel carries envelopes
// for every task a session ever submitted; TaskID is the sole key used to
// match an envelope to a job. Fields beyond Type and TaskID are set
// depending on Type.
type Envelope struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`

	// video_link
	VideoLink string `json:"video_link,omitempty"`
	FileName  string `json:"file_name,omitempty"`

	// progress
	Progress float64 `json:"progress,omitempty"`
	Step     string  `json:"step,omitempty"`

	// zip_complete
	ZipPath string `json:"zip_path,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ProgressEnvelope builds a progress update for a task.
func ProgressEnvelope(taskID string, progress float64, step string) Envelope {
	return Envelope{Type: EventProgress, TaskID: taskID, Progress: progress, Step: step}
}

// VideoLinkEnvelope builds a produced-artifact notification.
func VideoLinkEnvelope(taskID, link, fileName string) Envelope {
	return Envelope{Type: EventVideoLink, TaskID: taskID, VideoLink: link, FileName: fileName}
}

// ZipCompleteEnvelope builds a bundled-completion notification.
func ZipCompleteEnvelope(taskID, zipPath string) Envelope {
	return Envelope{Type: EventZipComplete, TaskID: taskID, ZipPath: zipPath}
}

// TaskCompleteEnvelope builds a bare completion notification.
func TaskCompleteEnvelope(taskID string) Envelope {
	return Envelope{Type: EventTaskComplete, TaskID: taskID}
}

// ErrorEnvelope builds a processing-failure notification.
func ErrorEnvelope(taskID, message string) Envelope {
	return Envelope{Type: EventError, TaskID: taskID, Message: message}
}
