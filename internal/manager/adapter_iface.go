package manager

import "context"

// EOSMarker is the end-of-sequence text adapters emit when the runtime stops
// on its own rather than on the token budget.
const EOSMarker = "</s>"

// Engine is a loaded model ready for completions. A session owns it
// exclusively; implementations need not be safe for concurrent turns.
type Engine interface {
	// PrimeSystemPrompt evaluates the system prompt so later completions
	// start from it.
	PrimeSystemPrompt(ctx context.Context) error
	// BeginCompletion starts generating a reply to prompt. image is the
	// encoded picture for this turn, or nil. It reports false when the
	// completion could not be started.
	BeginCompletion(ctx context.Context, prompt string, image []byte) bool
	// NextFragment returns the next piece of generated text. io.EOF means
	// the runtime has nothing more for this completion.
	NextFragment(ctx context.Context) (string, error)
	// Reset discards any in-flight completion and cached context.
	Reset(ctx context.Context) error
	// TokensEmitted counts fragments returned since BeginCompletion.
	TokensEmitted() int
	// TokenBudget is the per-completion fragment limit.
	TokenBudget() int
	Close() error
}

// Stopper is implemented by engines that generate in the background. Once a
// reply is complete the session stops the rest of the completion without
// discarding cached context.
type Stopper interface {
	StopCompletion()
}

// StopCompletion stops e's completion when e supports it.
func StopCompletion(e Engine) {
	if st, ok := e.(Stopper); ok {
		st.StopCompletion()
	}
}

// CreateParams are the artifacts and prompt framing for one engine.
type CreateParams struct {
	ModelPath     string
	AuxPath       string
	SystemPrompt  string
	TurnSeparator string
}

// EngineFactory creates engines. Create must return when ctx is canceled.
type EngineFactory interface {
	Create(ctx context.Context, p CreateParams) (Engine, error)
}

// Pinger is implemented by factories that depend on an external process.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GenParams captures generation parameters passed to the adapters.
type GenParams struct {
	Temperature   float32
	TopP          float32
	TopK          int
	Seed          int
	RepeatPenalty float32
	// Stop words end generation early; adapters report them as EOSMarker.
	Stop []string
}
