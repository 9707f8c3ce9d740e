//go:build !llama

package manager

// No-CGO stub for the in-process engine. It is compiled when the 'llama'
// build tag is NOT set, keeping default builds and CI CGO-free.

import "context"

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

type llamaFactory struct{}

func NewLlamaFactory(cfg LlamaConfig) EngineFactory {
	return &llamaFactory{}
}

func (f *llamaFactory) Create(ctx context.Context, p CreateParams) (Engine, error) {
	// Fail fast: llama runtime not available in this build.
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
