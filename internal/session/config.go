package session

import (
	"github.com/rs/zerolog"

	"llavad/internal/events"
)

// Prompt framing used by the bundled models.
const (
	DefaultSystemPrompt    = "A chat between a curious human and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the human's questions."
	DefaultHumanMarker     = "###Human:"
	DefaultAssistantMarker = "###Assistant:"
	DefaultTurnSeparator   = "###Assistant:"
	DefaultDiagnostic      = "The model reached its generation limit. Reset the conversation to continue."
)

// DefaultBoundaryMarkers end a reply; DefaultDegenerateMarkers invalidate it.
var (
	DefaultBoundaryMarkers   = []string{"###", "</s>"}
	DefaultDegenerateMarkers = []string{"<s>", "<unk>"}
)

// Config configures a Session. Zero fields take the defaults above.
type Config struct {
	Loader            Loader
	HumanMarker       string
	AssistantMarker   string
	BoundaryMarkers   []string
	DegenerateMarkers []string
	Diagnostic        string
	// MaxCompletionRetries bounds reload-and-retry cycles per turn. Zero
	// means the default of one; negative disables retries.
	MaxCompletionRetries int
	Logger               zerolog.Logger
	Publisher            events.Publisher
}

func (c *Config) applyDefaults() {
	if c.HumanMarker == "" {
		c.HumanMarker = DefaultHumanMarker
	}
	if c.AssistantMarker == "" {
		c.AssistantMarker = DefaultAssistantMarker
	}
	if len(c.BoundaryMarkers) == 0 {
		c.BoundaryMarkers = DefaultBoundaryMarkers
	}
	if len(c.DegenerateMarkers) == 0 {
		c.DegenerateMarkers = DefaultDegenerateMarkers
	}
	if c.Diagnostic == "" {
		c.Diagnostic = DefaultDiagnostic
	}
	switch {
	case c.MaxCompletionRetries == 0:
		c.MaxCompletionRetries = 1
	case c.MaxCompletionRetries < 0:
		c.MaxCompletionRetries = 0
	}
}
