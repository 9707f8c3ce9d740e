package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"llavad/internal/events"
	"llavad/internal/registry"
)

type nopEngine struct{ closed atomic.Bool }

func (e *nopEngine) PrimeSystemPrompt(context.Context) error               { return nil }
func (e *nopEngine) BeginCompletion(context.Context, string, []byte) bool { return true }
func (e *nopEngine) NextFragment(context.Context) (string, error)        { return "", io.EOF }
func (e *nopEngine) Reset(context.Context) error                         { return nil }
func (e *nopEngine) TokensEmitted() int                                  { return 0 }
func (e *nopEngine) TokenBudget() int                                    { return 1 }
func (e *nopEngine) Close() error                                        { e.closed.Store(true); return nil }

type countingFactory struct {
	mu     sync.Mutex
	calls  int
	last   CreateParams
	err    error
	delay  time.Duration
	engine []*nopEngine
}

func (f *countingFactory) Create(ctx context.Context, p CreateParams) (Engine, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = p
	if f.err != nil {
		return nil, f.err
	}
	e := &nopEngine{}
	f.engine = append(f.engine, e)
	return e, nil
}

func (f *countingFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	dir string
	aux string
	reg *registry.Registry
	pub *events.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	cat := []registry.Descriptor{
		{ID: "m1", DisplayName: "Model One", FileName: "m1.gguf", SourceURI: "http://example/m1"},
		{ID: "m2", DisplayName: "Model Two", FileName: "m2.gguf"},
	}
	reg, err := registry.NewRegistry(dir, cat)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return fixture{dir: dir, aux: filepath.Join(dir, "mmproj-model-f16.gguf"), reg: reg, pub: events.NewMemory()}
}

func (fx fixture) touch(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(fx.dir, name), []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func (fx fixture) manager(t *testing.T, f EngineFactory) *Manager {
	t.Helper()
	m, err := New(ManagerConfig{
		Registry:      fx.reg,
		Factory:       f,
		AuxPath:       fx.aux,
		SystemPrompt:  "sys",
		TurnSeparator: "###Assistant:",
		Publisher:     fx.pub,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewRequiresRegistryAndFactory(t *testing.T) {
	if _, err := New(ManagerConfig{Factory: &countingFactory{}}); err == nil {
		t.Fatalf("expected error without registry")
	}
	fx := newFixture(t)
	if _, err := New(ManagerConfig{Registry: fx.reg}); err == nil {
		t.Fatalf("expected error without factory")
	}
	if _, err := New(ManagerConfig{Registry: fx.reg, Factory: &countingFactory{}, DefaultModel: "nope"}); !IsModelNotFound(err) {
		t.Fatalf("expected model not found for bad default, got %v", err)
	}
}

func TestSelectUnknown(t *testing.T) {
	fx := newFixture(t)
	m := fx.manager(t, &countingFactory{})
	if err := m.Select("nope"); !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
	if m.Selected() != "" {
		t.Fatalf("selection should be unchanged")
	}
}

func TestSelectAndLoadCheckOrder(t *testing.T) {
	fx := newFixture(t)
	f := &countingFactory{}
	m := fx.manager(t, f)
	ctx := context.Background()

	if _, err := m.SelectAndLoad(ctx, "m1"); !IsLoadError(err, MissingArtifact) {
		t.Fatalf("want MissingArtifact, got %v", err)
	}
	if m.Snapshot().State != StateError {
		t.Fatalf("state should be error after failed load")
	}
	fx.touch(t, "m1.gguf")
	if _, err := m.SelectAndLoad(ctx, "m1"); !IsLoadError(err, MissingAuxAsset) {
		t.Fatalf("want MissingAuxAsset, got %v", err)
	}
	fx.touch(t, "mmproj-model-f16.gguf")
	f.err = errors.New("boom")
	_, err := m.SelectAndLoad(ctx, "m1")
	if !IsLoadError(err, EngineInitFailed) {
		t.Fatalf("want EngineInitFailed, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Err == nil || le.Err.Error() != "boom" {
		t.Fatalf("cause not preserved: %v", err)
	}
	f.err = nil
	e, err := m.SelectAndLoad(ctx, "m1")
	if err != nil || e == nil {
		t.Fatalf("load: %v", err)
	}
	if f.last.ModelPath != filepath.Join(fx.dir, "m1.gguf") || f.last.AuxPath != fx.aux {
		t.Fatalf("unexpected params: %+v", f.last)
	}
	if f.last.SystemPrompt != "sys" || f.last.TurnSeparator != "###Assistant:" {
		t.Fatalf("prompt framing not passed: %+v", f.last)
	}
	snap := m.Snapshot()
	if snap.State != StateReady || snap.CurrentModel == nil || snap.CurrentModel.ID != "m1" || snap.Err != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !m.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestDependencyUnavailableSurvivesLoadError(t *testing.T) {
	fx := newFixture(t)
	fx.touch(t, "m1.gguf")
	fx.touch(t, "mmproj-model-f16.gguf")
	m := fx.manager(t, &countingFactory{err: ErrDependencyUnavailable("no llama")})
	_, err := m.SelectAndLoad(context.Background(), "m1")
	if !IsLoadError(err, EngineInitFailed) || !IsDependencyUnavailable(err) {
		t.Fatalf("want engine init failed wrapping dependency error, got %v", err)
	}
}

func TestEnsure(t *testing.T) {
	fx := newFixture(t)
	fx.touch(t, "m1.gguf")
	fx.touch(t, "mmproj-model-f16.gguf")
	f := &countingFactory{}
	m := fx.manager(t, f)
	ctx := context.Background()

	if _, err := m.Ensure(ctx, nil); !errors.Is(err, ErrNoModelSelected) {
		t.Fatalf("want ErrNoModelSelected, got %v", err)
	}
	if err := m.Select("m1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	e, err := m.Ensure(ctx, nil)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	again, err := m.Ensure(ctx, e)
	if err != nil || again != e {
		t.Fatalf("ensure with engine should return it unchanged")
	}
	if f.Calls() != 1 {
		t.Fatalf("expected one create, got %d", f.Calls())
	}
}

func TestEnsureConcurrentCallersShareLoad(t *testing.T) {
	fx := newFixture(t)
	fx.touch(t, "m1.gguf")
	fx.touch(t, "mmproj-model-f16.gguf")
	f := &countingFactory{delay: 50 * time.Millisecond}
	m := fx.manager(t, f)
	if err := m.Select("m1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	var wg sync.WaitGroup
	engines := make([]Engine, 4)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := m.Ensure(context.Background(), nil)
			if err != nil {
				t.Errorf("ensure: %v", err)
			}
			engines[i] = e
		}(i)
	}
	wg.Wait()
	if f.Calls() > len(engines) || f.Calls() < 1 {
		t.Fatalf("unexpected create count %d", f.Calls())
	}
	for _, e := range engines {
		if e == nil {
			t.Fatalf("nil engine returned")
		}
	}
}

func TestReload(t *testing.T) {
	fx := newFixture(t)
	fx.touch(t, "m1.gguf")
	fx.touch(t, "mmproj-model-f16.gguf")
	f := &countingFactory{}
	m := fx.manager(t, f)
	ctx := context.Background()

	if _, err := m.Reload(ctx, nil); !errors.Is(err, ErrNoModelSelected) {
		t.Fatalf("want ErrNoModelSelected, got %v", err)
	}
	e, err := m.SelectAndLoad(ctx, "m1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ne, err := m.Reload(ctx, e)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ne == e {
		t.Fatalf("reload should produce a fresh engine")
	}
	if !e.(*nopEngine).closed.Load() {
		t.Fatalf("old engine not closed")
	}
	snap := m.Snapshot()
	if snap.ReloadsTotal != 2 || snap.LoadsTotal != 2 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	names := fx.pub.Names()
	want := []string{"reload_start", "load_start", "load_ready", "reload_start", "load_start", "load_ready", "reload_done"}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events = %v, want %v", names, want)
		}
	}
}

func TestLoadErrorEvent(t *testing.T) {
	fx := newFixture(t)
	m := fx.manager(t, &countingFactory{})
	_, _ = m.SelectAndLoad(context.Background(), "m2")
	evts := fx.pub.Events()
	if len(evts) != 2 || evts[1].Name != "load_error" {
		t.Fatalf("unexpected events: %+v", evts)
	}
	if evts[1].Fields["kind"] != "missing_artifact" || evts[1].ModelID != "m2" {
		t.Fatalf("unexpected load_error fields: %+v", evts[1])
	}
}

func TestPreflight(t *testing.T) {
	fx := newFixture(t)
	m := fx.manager(t, &countingFactory{})
	byName := func(cs []Check) map[string]Check {
		out := map[string]Check{}
		for _, c := range cs {
			out[c.Name] = c
		}
		return out
	}
	got := byName(m.Preflight(context.Background()))
	if !got["models_dir"].OK || got["aux_asset"].OK || got["selected_model"].OK {
		t.Fatalf("unexpected checks: %+v", got)
	}
	if _, ok := got["engine"]; ok {
		t.Fatalf("plain factory should not report an engine check")
	}
	fx.touch(t, "m1.gguf")
	fx.touch(t, "mmproj-model-f16.gguf")
	if err := m.Select("m1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	got = byName(m.Preflight(context.Background()))
	if !got["aux_asset"].OK || !got["selected_model"].OK {
		t.Fatalf("unexpected checks after setup: %+v", got)
	}
}

func TestLoadErrorKindString(t *testing.T) {
	cases := map[LoadErrorKind]string{
		MissingArtifact:  "missing_artifact",
		MissingAuxAsset:  "missing_aux_asset",
		EngineInitFailed: "engine_init_failed",
		0:                "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Fatalf("%d: got %q want %q", k, k.String(), want)
		}
	}
	if !IsLoadError(&LoadError{Kind: MissingAuxAsset}, 0) {
		t.Fatalf("zero kind should match any load error")
	}
	if IsLoadError(errors.New("x"), 0) {
		t.Fatalf("plain error is not a load error")
	}
}
