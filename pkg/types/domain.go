package types

// Model represents a catalog entry or sideloaded model file.
type Model struct {
	// Stable identifier for the model.
	// example: danube-ko-1.8b-q8
	ID string `json:"id" example:"danube-ko-1.8b-q8"`
	// Human-friendly name.
	// example: Model Q8 (Lite Version)
	Name string `json:"name" example:"Model Q8 (Lite Version)"`
	// File name inside the models directory.
	// example: danube-ko-1.8B-base-Q8_0.gguf
	FileName string `json:"file_name" example:"danube-ko-1.8B-base-Q8_0.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/.llavad/models/danube-ko-1.8B-base-Q8_0.gguf
	Path string `json:"path" example:"/home/user/.llavad/models/danube-ko-1.8B-base-Q8_0.gguf"`
	// Remote location the file is downloaded from. Empty for sideloaded files.
	SourceURI string `json:"source_uri,omitempty"`
	// Minimum device RAM required to run the model, in GiB.
	// example: 5
	MinRAMGiB int `json:"min_ram_gib" example:"5"`
	// Whether the file currently exists on disk.
	// example: true
	Present bool `json:"present" example:"true"`
	// True for *.gguf files found on disk that are not in the catalog.
	Sideloaded bool `json:"sideloaded,omitempty"`
	// Size on disk, human readable (present models only).
	// example: 1.9 GB
	Size string `json:"size,omitempty" example:"1.9 GB"`
	// Download progress in [0,1] if a job exists for this model.
	// example: 0.42
	DownloadProgress *float64 `json:"download_progress,omitempty" example:"0.42"`
	// Download phase if a job exists (idle, in_progress, succeeded, failed).
	// example: in_progress
	DownloadPhase string `json:"download_phase,omitempty" example:"in_progress"`
}

// Message is a single published conversation entry.
type Message struct {
	// Unique message id.
	ID string `json:"id"`
	// Arrival order within the session, starting at 1.
	// example: 1
	Seq int `json:"seq" example:"1"`
	// Who produced the message: user or assistant.
	// example: assistant
	Speaker string `json:"speaker" example:"assistant"`
	// Message text.
	Text string `json:"text"`
	// True if the image accompanied this message.
	HasImage bool `json:"has_image,omitempty"`
	// True if this is a generated diagnostic rather than model output.
	Diagnostic bool `json:"diagnostic,omitempty"`
	// Creation time (unix milliseconds).
	CreatedAtMS int64 `json:"created_at_ms"`
}
