//go:build llama

package manager

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaFactory holds global config used to initialize a model instance
type llamaFactory struct {
	ctxSize int
	threads int
	budget  int
	params  GenParams
	log     zerolog.Logger
}

func NewLlamaFactory(cfg LlamaConfig) EngineFactory {
	return &llamaFactory{
		ctxSize: cfg.CtxSize,
		threads: cfg.Threads,
		budget:  zn(cfg.TokenBudget, defaultTokenBudget),
		params:  cfg.Params,
		log:     cfg.Logger,
	}
}

// llamaEngine owns the loaded model. Predict is stateless, so the system
// prompt is framed into every completion.
type llamaEngine struct {
	f      *llamaFactory
	model  *llama.LLama
	params CreateParams
	state  streamState
}

func (f *llamaFactory) Create(ctx context.Context, p CreateParams) (Engine, error) {
	if strings.TrimSpace(p.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Configure model options
	mo := []llama.ModelOption{
		llama.SetContext(f.ctxSize),
	}
	m, err := llama.New(p.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	if p.AuxPath != "" {
		f.log.Warn().Str("event", "aux_ignored").Str("aux", p.AuxPath).Msg("in-process engine has no projector support")
	}
	return &llamaEngine{f: f, model: m, params: p, state: streamState{budget: f.budget}}, nil
}

func (e *llamaEngine) PrimeSystemPrompt(ctx context.Context) error {
	if e.model == nil {
		return errors.New("llama model not initialized")
	}
	return ctx.Err()
}

func (e *llamaEngine) BeginCompletion(ctx context.Context, prompt string, image []byte) bool {
	if e.model == nil {
		return false
	}
	e.state.swap(nil)
	if image != nil {
		e.f.log.Warn().Str("event", "image_dropped").Int("bytes", len(image)).Msg("in-process engine is text only")
	}
	text := prompt + e.params.TurnSeparator
	if e.params.SystemPrompt != "" {
		text = e.params.SystemPrompt + "\n" + text
	}
	budget := e.state.budget
	e.state.swap(startStream(ctx, func(sctx context.Context, emit func(string) bool) error {
		n := 0
		// Bridge token streaming to emit and respect cancellation
		e.model.SetTokenCallback(func(tok string) bool {
			n++
			return emit(tok)
		})
		po := mapGenParamsToPredictOptions(e.f.params, budget, e.f.threads)
		if _, err := e.model.Predict(text, po...); err != nil {
			if sctx.Err() != nil {
				return sctx.Err()
			}
			return err
		}
		if sctx.Err() != nil {
			return sctx.Err()
		}
		// Predict returns early only on end of sequence.
		if n < budget {
			emit(EOSMarker)
		}
		return nil
	}))
	return true
}

func (e *llamaEngine) NextFragment(ctx context.Context) (string, error) {
	return e.state.next(ctx)
}

func (e *llamaEngine) Reset(ctx context.Context) error {
	e.state.swap(nil)
	return nil
}

// StopCompletion cancels the producer of the current completion.
func (e *llamaEngine) StopCompletion() { e.state.swap(nil) }

func (e *llamaEngine) TokensEmitted() int { return e.state.TokensEmitted() }
func (e *llamaEngine) TokenBudget() int   { return e.state.TokenBudget() }

func (e *llamaEngine) Close() error {
	e.state.swap(nil)
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

// helpers
func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// mapGenParamsToPredictOptions converts our adapter params into go-llama.cpp options
func mapGenParamsToPredictOptions(params GenParams, budget, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, budget)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
