package types

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Catalog models with presence and download state.
	Models []Model `json:"models"`
	// Stray *.gguf files found in the models directory.
	Sideloaded []Model `json:"sideloaded,omitempty"`
}

// DownloadJob describes a model download for GET /downloads.
type DownloadJob struct {
	// Job id.
	ID string `json:"id"`
	// Model this job downloads.
	// example: danube-ko-1.8b-q8
	ModelID string `json:"model_id" example:"danube-ko-1.8b-q8"`
	// Phase: idle, in_progress, succeeded, failed.
	// example: in_progress
	Phase string `json:"phase" example:"in_progress"`
	// Progress fraction in [0,1].
	// example: 0.5
	Progress float64 `json:"progress" example:"0.5"`
	// Bytes written so far.
	BytesDone int64 `json:"bytes_done"`
	// Total bytes if known, else 0.
	BytesTotal int64 `json:"bytes_total"`
	// Error message for failed jobs.
	Error string `json:"error,omitempty"`
	// Start time (unix seconds).
	StartedAt int64 `json:"started_at_unix"`
}

// DownloadsResponse is returned by GET /downloads.
type DownloadsResponse struct {
	// True while a download is running (downloads are serialized).
	Busy bool          `json:"busy"`
	Jobs []DownloadJob `json:"jobs"`
}

// TurnRequest is the payload for POST /session/turns.
type TurnRequest struct {
	// Required user utterance.
	// example: What is in this picture?
	Text string `json:"text" example:"What is in this picture?"`
	// Optional base64 encoded image (JPEG or PNG).
	ImageBase64 string `json:"image_base64,omitempty"`
}

// TurnResponse is returned by POST /session/turns.
type TurnResponse struct {
	// Assistant reply or diagnostic message.
	Message Message `json:"message"`
	// Phase after the turn completed.
	// example: idle
	Phase string `json:"phase" example:"idle"`
}

// SessionResponse is returned by GET /session.
type SessionResponse struct {
	// Current loading phase: idle, embedding_image, generating_response, reloading_model.
	// example: idle
	Phase string `json:"phase" example:"idle"`
	// Messages in arrival order.
	Messages []Message `json:"messages"`
	// Whether an image is embedded in the current context.
	HasImageContext bool `json:"has_image_context"`
	// Length of the role-tagged prompt transcript in bytes.
	TranscriptBytes int `json:"transcript_bytes"`
	// Selected model id, if any.
	Model string `json:"model,omitempty"`
}

// SelectResponse is returned by POST /models/{id}/select.
type SelectResponse struct {
	// Selected model id.
	Model string `json:"model"`
	// Manager state after loading.
	// example: ready
	State string `json:"state" example:"ready"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// PreflightCheck is a single named readiness check.
type PreflightCheck struct {
	// Check name.
	// example: aux_asset_present
	Name string `json:"name" example:"aux_asset_present"`
	// Whether the check passed.
	OK bool `json:"ok"`
	// Optional detail (path, error).
	Detail string `json:"detail,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Manager state: loading, ready, error.
	// example: ready
	State string `json:"state" example:"ready"`
	// Selected model id.
	Model string `json:"model,omitempty"`
	// Last load error, if any.
	Error string `json:"error,omitempty"`
	// Session phase.
	// example: idle
	Phase string `json:"phase" example:"idle"`
	// Total successful loads.
	LoadsTotal uint64 `json:"loads_total"`
	// Total reloads triggered by completion failures or resets.
	ReloadsTotal uint64 `json:"reloads_total"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
	// Preflight checks.
	Checks []PreflightCheck `json:"checks"`
}
