package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// imageSlot is the id the prompt uses to reference the uploaded image.
const imageSlot = 10

// ServerConfig configures the llama.cpp server adapter.
type ServerConfig struct {
	BaseURL        string
	APIKey         string
	TokenBudget    int
	ConnectTimeout time.Duration
	Params         GenParams
	Logger         zerolog.Logger
}

// llamaServerFactory creates engines backed by a running llama.cpp server over HTTP.
// The server loads the model and projector itself; the factory only checks
// that it is reachable.
type llamaServerFactory struct {
	baseURL    string
	apiKey     string
	budget     int
	params     GenParams
	httpClient *http.Client
	log        zerolog.Logger
}

// NewLlamaServerFactory constructs a server-backed factory.
func NewLlamaServerFactory(cfg ServerConfig) EngineFactory {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries its own context deadline.
	cli := &http.Client{Transport: tr, Timeout: 0}
	budget := cfg.TokenBudget
	if budget <= 0 {
		budget = defaultTokenBudget
	}
	return &llamaServerFactory{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		budget:     budget,
		params:     cfg.Params,
		httpClient: cli,
		log:        cfg.Logger,
	}
}

// Ping checks GET /health.
func (f *llamaServerFactory) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	f.authorize(req)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return ErrDependencyUnavailable("llama server unreachable: " + err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return ErrDependencyUnavailable("llama server not ready: " + resp.Status)
	}
	return nil
}

func (f *llamaServerFactory) authorize(req *http.Request) {
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}
}

func (f *llamaServerFactory) Create(ctx context.Context, p CreateParams) (Engine, error) {
	if f.baseURL == "" {
		return nil, errors.New("llama server url is empty")
	}
	if err := f.Ping(ctx); err != nil {
		return nil, err
	}
	return &llamaServerEngine{
		factory: f,
		params:  p,
		state:   streamState{budget: f.budget},
	}, nil
}

// llamaServerEngine holds the prompt framing for one loaded model.
type llamaServerEngine struct {
	factory *llamaServerFactory
	params  CreateParams
	state   streamState
}

// completionRequest is the payload for the native /completion endpoint.
type completionRequest struct {
	Prompt        string      `json:"prompt"`
	NPredict      int         `json:"n_predict"`
	Stream        bool        `json:"stream"`
	CachePrompt   bool        `json:"cache_prompt"`
	Temperature   float32     `json:"temperature,omitempty"`
	TopP          float32     `json:"top_p,omitempty"`
	TopK          int         `json:"top_k,omitempty"`
	Seed          int         `json:"seed,omitempty"`
	RepeatPenalty float32     `json:"repeat_penalty,omitempty"`
	Stop          []string    `json:"stop,omitempty"`
	ImageData     []imageData `json:"image_data,omitempty"`
}

type imageData struct {
	Data string `json:"data"`
	ID   int    `json:"id"`
}

// completionChunk is one streamed line from /completion.
type completionChunk struct {
	Content      string `json:"content"`
	Stop         bool   `json:"stop"`
	StoppedEOS   bool   `json:"stopped_eos"`
	StoppedWord  bool   `json:"stopped_word"`
	StoppedLimit bool   `json:"stopped_limit"`
}

func (e *llamaServerEngine) post(ctx context.Context, payload completionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.factory.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	e.factory.authorize(req)
	resp, err := e.factory.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

func (e *llamaServerEngine) request(prompt string, nPredict int, stream bool) completionRequest {
	gp := e.factory.params
	return completionRequest{
		Prompt:        prompt,
		NPredict:      nPredict,
		Stream:        stream,
		CachePrompt:   true,
		Temperature:   gp.Temperature,
		TopP:          gp.TopP,
		TopK:          gp.TopK,
		Seed:          gp.Seed,
		RepeatPenalty: gp.RepeatPenalty,
		Stop:          gp.Stop,
	}
}

// PrimeSystemPrompt evaluates the system prompt with n_predict=0 so the
// server caches it.
func (e *llamaServerEngine) PrimeSystemPrompt(ctx context.Context) error {
	if e.params.SystemPrompt == "" {
		return nil
	}
	resp, err := e.post(ctx, e.request(e.params.SystemPrompt, 0, false))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// framePrompt prepends the system prompt and image reference and appends the
// turn separator so the model continues as the assistant.
func (e *llamaServerEngine) framePrompt(prompt string, hasImage bool) string {
	var b strings.Builder
	if e.params.SystemPrompt != "" {
		b.WriteString(e.params.SystemPrompt)
		b.WriteString("\n")
	}
	if hasImage {
		fmt.Fprintf(&b, "[img-%d]\n", imageSlot)
	}
	b.WriteString(prompt)
	b.WriteString(e.params.TurnSeparator)
	return b.String()
}

func (e *llamaServerEngine) BeginCompletion(ctx context.Context, prompt string, image []byte) bool {
	e.state.swap(nil)
	payload := e.request(e.framePrompt(prompt, image != nil), e.state.budget, true)
	if image != nil {
		payload.ImageData = []imageData{{Data: base64.StdEncoding.EncodeToString(image), ID: imageSlot}}
	}
	resp, err := e.post(ctx, payload)
	if err != nil {
		e.factory.log.Warn().Str("event", "completion_start_error").Err(err).Msg("llama server")
		return false
	}
	e.state.swap(startStream(ctx, func(sctx context.Context, emit func(string) bool) error {
		defer resp.Body.Close()
		stop := context.AfterFunc(sctx, func() { resp.Body.Close() })
		defer stop()
		return readCompletion(sctx, resp.Body, emit, e.factory.log)
	}))
	return true
}

// readCompletion parses "data: {...}" lines until the server reports stop.
func readCompletion(ctx context.Context, r io.Reader, emit func(string) bool, log zerolog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(line), "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug().Str("event", "unknown_stream_line").Str("line", line).Msg("llama server")
			continue
		}
		if chunk.Content != "" && !emit(chunk.Content) {
			return ctx.Err()
		}
		if chunk.Stop {
			if chunk.StoppedEOS || chunk.StoppedWord {
				emit(EOSMarker)
			}
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (e *llamaServerEngine) NextFragment(ctx context.Context) (string, error) {
	return e.state.next(ctx)
}

func (e *llamaServerEngine) Reset(ctx context.Context) error {
	e.state.swap(nil)
	return nil
}

// StopCompletion cancels the producer of the current completion.
func (e *llamaServerEngine) StopCompletion() { e.state.swap(nil) }

func (e *llamaServerEngine) TokensEmitted() int { return e.state.TokensEmitted() }
func (e *llamaServerEngine) TokenBudget() int   { return e.state.TokenBudget() }

func (e *llamaServerEngine) Close() error {
	e.state.swap(nil)
	return nil
}
