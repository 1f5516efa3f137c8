package vision

// NarrationData is the payload returned by a successful analysis. Audio
// fields are empty when every speech backend failed and the client should
// fall back to reading the description.
type NarrationData struct {
	Description   string  `json:"description"`
	ModelUsed     string  `json:"model_used"`
	ImageWidth    int     `json:"image_width"`
	ImageHeight   int     `json:"image_height"`
	Audio         string  `json:"audio,omitempty"`
	AudioFormat   string  `json:"audio_format,omitempty"`
	AudioSeconds  float64 `json:"audio_seconds,omitempty"`
	SpeechBackend string  `json:"speech_backend,omitempty"`
}

// StatusData reports service health for the GET endpoint.
type StatusData struct {
	Status         string         `json:"status"`
	Models         []string       `json:"models"`
	SpeechBackends []string       `json:"speech_backends"`
	System         SystemSnapshot `json:"system"`
}

// SystemSnapshot is a point-in-time view of host resource usage.
type SystemSnapshot struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemUsedMB      uint64  `json:"mem_used_mb"`
}

// AuthVerifyResult carries the outcome of bearer token verification.
type AuthVerifyResult struct {
	IsValid  bool
	ClientID string
}
