package manager

import (
	"time"

	"github.com/rs/zerolog"

	"llavad/internal/events"
	"llavad/internal/registry"
)

// Defaults applied when corresponding config fields are unset.
const (
	defaultTokenBudget = 512
	defaultLoadTimeout = 2 * time.Minute
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry *registry.Registry
	Factory  EngineFactory
	// AuxPath is the vision projection asset every model needs.
	AuxPath       string
	SystemPrompt  string
	TurnSeparator string
	DefaultModel  string
	// LoadTimeout bounds a single Create call.
	LoadTimeout time.Duration
	Logger      zerolog.Logger
	Publisher   events.Publisher
}

// LlamaConfig configures the in-process engine.
type LlamaConfig struct {
	CtxSize     int
	Threads     int
	TokenBudget int
	Params      GenParams
	Logger      zerolog.Logger
}
