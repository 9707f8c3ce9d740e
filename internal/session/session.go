// Package session runs the chat turn state machine over one engine: it owns
// the transcript, the image context and the phase, and it decides when a
// streamed reply is finished or must be discarded.
package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llavad/internal/events"
	"llavad/internal/manager"
)

// Loader produces engines. *manager.Manager satisfies it.
type Loader interface {
	Ensure(ctx context.Context, e manager.Engine) (manager.Engine, error)
	Reload(ctx context.Context, e manager.Engine) (manager.Engine, error)
}

// Message is one published chat entry. Messages are never mutated.
type Message struct {
	ID         string
	Seq        int
	Speaker    Speaker
	Text       string
	Image      []byte
	Diagnostic bool
	CreatedAt  time.Time
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	Phase           Phase
	Messages        []Message
	HasImageContext bool
	TranscriptBytes int
}

// Session is a single conversation. Turns run one at a time.
type Session struct {
	cfg Config
	log zerolog.Logger
	pub events.Publisher

	resetMu sync.Mutex

	mu              sync.Mutex
	phase           Phase
	resetting       int
	inFlight        bool
	turnDone        chan struct{}
	engine          manager.Engine
	messages        []Message
	transcript      string
	pendingImage    []byte
	hasImageContext bool
	seq             int
}

// New constructs an idle Session.
func New(cfg Config) (*Session, error) {
	if cfg.Loader == nil {
		return nil, errors.New("session: loader is required")
	}
	cfg.applyDefaults()
	s := &Session{cfg: cfg, log: cfg.Logger, pub: events.OrNop(cfg.Publisher)}
	observePhase(Idle)
	return s, nil
}

// SubmitTurn runs one turn and returns the assistant message, which is either
// the reply or the diagnostic. On error no assistant message is published.
func (s *Session) SubmitTurn(ctx context.Context, text string, image []byte) (Message, error) {
	release, err := s.acquire()
	if err != nil {
		return Message{}, err
	}
	defer release()

	start := time.Now()
	msg, outcome, err := s.runTurn(ctx, text, image)
	turnsTotal.WithLabelValues(outcome).Inc()
	s.setPhase(Idle)
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("event", "turn_done").Str("outcome", outcome).Bool("image", len(image) > 0).Dur("duration", time.Since(start)).Msg("session")
	return msg, err
}

// PreInit loads the engine and primes the system prompt ahead of the first turn.
func (s *Session) PreInit(ctx context.Context) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	eng, err := s.cfg.Loader.Ensure(ctx, s.currentEngine())
	if err != nil {
		return err
	}
	s.setEngine(eng)
	return eng.PrimeSystemPrompt(ctx)
}

func (s *Session) acquire() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetting > 0 {
		return nil, ErrBusy
	}
	if s.inFlight {
		return nil, ErrTurnInFlight
	}
	s.inFlight = true
	done := make(chan struct{})
	s.turnDone = done
	return func() {
		s.mu.Lock()
		s.inFlight = false
		s.turnDone = nil
		close(done)
		s.mu.Unlock()
	}, nil
}

func (s *Session) runTurn(ctx context.Context, text string, image []byte) (Message, string, error) {
	if len(image) == 0 {
		image = nil
	} else {
		image = bytes.Clone(image)
	}
	humanSent := false
	for attempt := 0; ; attempt++ {
		eng, err := s.cfg.Loader.Ensure(ctx, s.currentEngine())
		if err != nil {
			return Message{}, "load_error", err
		}
		s.setEngine(eng)

		s.prepare(ctx, eng, image, attempt > 0)
		if !humanSent {
			s.appendHuman(text, image)
			humanSent = true
		}
		s.setPhase(GeneratingResponse)

		if err := ctx.Err(); err != nil {
			return Message{}, "canceled", err
		}
		prompt, img := s.promptInputs(image)
		if eng.BeginCompletion(ctx, prompt, img) {
			return s.finish(ctx, eng)
		}
		if err := ctx.Err(); err != nil {
			return Message{}, "canceled", err
		}
		s.log.Warn().Str("event", "completion_start_failed").Int("attempt", attempt+1).Msg("session")
		if attempt >= s.cfg.MaxCompletionRetries {
			return Message{}, "failed", &CompletionError{Attempts: attempt + 1}
		}

		s.setPhase(ReloadingModel)
		reloadsTotal.Inc()
		ne, err := s.cfg.Loader.Reload(ctx, eng)
		s.setEngine(ne)
		if err != nil {
			return Message{}, "failed", &CompletionError{Attempts: attempt + 1, Err: err}
		}
	}
}

// prepare sets up engine and image state for a turn. A retry keeps the
// transcript, which already holds this turn's human segment.
func (s *Session) prepare(ctx context.Context, eng manager.Engine, image []byte, retry bool) {
	s.mu.Lock()
	hasCtx := s.hasImageContext
	s.mu.Unlock()

	switch {
	case image != nil:
		s.setPhase(EmbeddingImage)
		s.mu.Lock()
		s.pendingImage = image
		s.hasImageContext = true
		if !retry {
			s.transcript = ""
		}
		s.mu.Unlock()
		s.resetEngine(ctx, eng)
		s.prime(ctx, eng)
	case !hasCtx:
		s.resetEngine(ctx, eng)
	case retry:
		s.prime(ctx, eng)
	}
}

func (s *Session) resetEngine(ctx context.Context, eng manager.Engine) {
	if err := eng.Reset(ctx); err != nil {
		s.log.Warn().Str("event", "engine_reset_error").Err(err).Msg("session")
	}
}

func (s *Session) prime(ctx context.Context, eng manager.Engine) {
	if err := eng.PrimeSystemPrompt(ctx); err != nil {
		s.log.Warn().Str("event", "prime_error").Err(err).Msg("session")
	}
}

func (s *Session) appendHuman(text string, image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript += s.cfg.HumanMarker + " " + text + " "
	s.appendMessageLocked(User, text, image, false)
}

// promptInputs returns the transcript and the image relevant to this turn.
func (s *Session) promptInputs(image []byte) (string, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if image != nil {
		return s.transcript, image
	}
	if s.hasImageContext {
		return s.transcript, s.pendingImage
	}
	return s.transcript, nil
}

func (s *Session) finish(ctx context.Context, eng manager.Engine) (Message, string, error) {
	reply, err := s.stream(ctx, eng)
	switch {
	case err == nil:
		manager.StopCompletion(eng)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.transcript += s.cfg.AssistantMarker + " " + reply + " "
		return s.appendMessageLocked(Assistant, reply, nil, false), "ok", nil
	case errors.Is(err, errInvalidOutput):
		s.resetEngine(context.Background(), eng)
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.appendMessageLocked(Assistant, s.cfg.Diagnostic, nil, true), "invalid", nil
	default:
		// Stop the engine's stream; the partial reply is dropped.
		s.resetEngine(context.Background(), eng)
		return Message{}, "canceled", err
	}
}

// stream reads fragments until a boundary marker, a degenerate marker or
// the token budget.
func (s *Session) stream(ctx context.Context, eng manager.Engine) (string, error) {
	sc := newMarkerScanner(s.cfg.BoundaryMarkers, s.cfg.DegenerateMarkers)
	var reply strings.Builder
	for eng.TokensEmitted() < eng.TokenBudget() {
		frag, err := eng.NextFragment(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				break
			}
			s.log.Warn().Str("event", "stream_error").Err(err).Msg("session")
			return "", errInvalidOutput
		}
		text, res := sc.feed(frag)
		if text != "" {
			reply.WriteString(text)
			s.publish("fragment", map[string]any{"text": text})
		}
		switch res {
		case scanBoundary:
			return strings.TrimSpace(reply.String()), nil
		case scanDegenerate:
			s.log.Debug().Str("event", "degenerate_output").Msg("session")
			return "", errInvalidOutput
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.log.Debug().Str("event", "budget_exhausted").Int("tokens", eng.TokensEmitted()).Str("held", sc.pending()).Msg("session")
	return "", errInvalidOutput
}

// Reset waits for any in-flight turn, clears the conversation and reloads
// the engine. New turns are rejected with ErrBusy until it returns, and the
// phase is Idle afterwards.
//
// If ctx ends while a turn is still running, Reset returns ctx.Err() and
// leaves everything as it was: nothing is cleared, no reload happens and the
// phase stays GeneratingResponse until that turn finishes.
func (s *Session) Reset(ctx context.Context) error {
	return s.ResetWith(ctx, nil)
}

// ResetWith is Reset with apply run after the in-flight turn has finished
// and before the reload. A model switch goes through here so a running
// turn's retry still reloads the model it started on. When apply fails the
// session is left untouched and its error is returned.
func (s *Session) ResetWith(ctx context.Context, apply func() error) error {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	s.mu.Lock()
	s.adjustResettingLocked(1)
	done := s.turnDone
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			s.mu.Lock()
			s.adjustResettingLocked(-1)
			s.mu.Unlock()
			return ctx.Err()
		}
	}
	if apply != nil {
		if err := apply(); err != nil {
			s.mu.Lock()
			s.adjustResettingLocked(-1)
			s.mu.Unlock()
			return err
		}
	}

	eng := s.currentEngine()
	if eng != nil {
		s.resetEngine(ctx, eng)
	}
	s.mu.Lock()
	s.messages = nil
	s.transcript = ""
	s.pendingImage = nil
	s.hasImageContext = false
	s.mu.Unlock()

	reloadsTotal.Inc()
	ne, err := s.cfg.Loader.Reload(ctx, eng)
	s.setEngine(ne)
	if errors.Is(err, manager.ErrNoModelSelected) {
		err = nil
	}

	s.mu.Lock()
	s.phase = Idle
	s.adjustResettingLocked(-1)
	s.publishLocked("reset_done", map[string]any{"ok": err == nil})
	s.mu.Unlock()
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("event", "reset_done").Msg("session")
	return err
}

// Phase returns the visible phase. A pending reset shows as ReloadingModel.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

// Messages returns the published messages in order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Transcript returns the role-tagged text sent to the engine.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// HasImageContext reports whether an image from an earlier turn is in use.
func (s *Session) HasImageContext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasImageContext
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:           s.visibleLocked(),
		Messages:        append([]Message(nil), s.messages...),
		HasImageContext: s.hasImageContext,
		TranscriptBytes: len(s.transcript),
	}
}

func (s *Session) currentEngine() manager.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Session) setEngine(e manager.Engine) {
	s.mu.Lock()
	s.engine = e
	s.mu.Unlock()
}

func (s *Session) visibleLocked() Phase {
	if s.resetting > 0 {
		return ReloadingModel
	}
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.visibleLocked()
	s.phase = p
	s.phaseChangedLocked(before)
}

func (s *Session) adjustResettingLocked(delta int) {
	before := s.visibleLocked()
	s.resetting += delta
	s.phaseChangedLocked(before)
}

func (s *Session) phaseChangedLocked(before Phase) {
	after := s.visibleLocked()
	if after == before {
		return
	}
	observePhase(after)
	s.publishLocked("phase", map[string]any{"phase": after.String(), "from": before.String()})
	s.log.Debug().Str("event", "phase").Str("from", before.String()).Str("to", after.String()).Msg("session")
}

func (s *Session) appendMessageLocked(sp Speaker, text string, image []byte, diag bool) Message {
	s.seq++
	m := Message{
		ID:         uuid.NewString(),
		Seq:        s.seq,
		Speaker:    sp,
		Text:       text,
		Image:      image,
		Diagnostic: diag,
		CreatedAt:  time.Now(),
	}
	s.messages = append(s.messages, m)
	s.publishLocked("message", map[string]any{
		"id":         m.ID,
		"seq":        m.Seq,
		"speaker":    sp.String(),
		"text":       text,
		"has_image":  image != nil,
		"diagnostic": diag,
	})
	return m
}

func (s *Session) publish(name string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(name, fields)
}

// publishLocked keeps events in state order. Publishers must not call back
// into the session.
func (s *Session) publishLocked(name string, fields map[string]any) {
	s.pub.Publish(events.Event{Name: name, Source: "session", Fields: fields, Time: time.Now()})
}
