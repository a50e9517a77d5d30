package model

// Parameters are the textual processing options sent alongside the input
// artifacts. Validated before any transfer starts.
type Parameters struct {
	VoiceID            string `json:"voice_id" validate:"required"`
	APIKey             string `json:"api_key" validate:"required"`
	ParallelProcessing int    `json:"parallel_processing" validate:"gte=1,lte=64"`
}
