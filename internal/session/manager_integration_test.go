package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"llavad/internal/events"
	"llavad/internal/manager"
	"llavad/internal/registry"
)

type worldFactory struct{ w *fakeWorld }

func (f worldFactory) Create(ctx context.Context, p manager.CreateParams) (manager.Engine, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.newEngineLocked(), nil
}

func TestSessionWithManager(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"m.gguf", "mmproj-model-f16.gguf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	reg, err := registry.NewRegistry(dir, []registry.Descriptor{{ID: "m", FileName: "m.gguf"}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	w := &fakeWorld{beginFails: 1, script: [][]string{{"hello###"}}}
	pub := events.NewMemory()
	mgr, err := manager.New(manager.ManagerConfig{
		Registry:      reg,
		Factory:       worldFactory{w: w},
		AuxPath:       filepath.Join(dir, "mmproj-model-f16.gguf"),
		SystemPrompt:  DefaultSystemPrompt,
		TurnSeparator: DefaultTurnSeparator,
		DefaultModel:  "m",
		Publisher:     pub,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	s, err := New(Config{Loader: mgr, Publisher: pub})
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	msg, err := s.SubmitTurn(testCtx(t), "hi", nil)
	if err != nil {
		t.Fatalf("SubmitTurn() error: %v", err)
	}
	if msg.Text != "hello" {
		t.Fatalf("reply = %q", msg.Text)
	}
	snap := mgr.Snapshot()
	if snap.LoadsTotal != 2 || snap.ReloadsTotal != 1 || snap.State != manager.StateReady {
		t.Fatalf("manager snapshot = %+v", snap)
	}
	if err := s.Reset(testCtx(t)); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if mgr.Snapshot().ReloadsTotal != 2 {
		t.Fatalf("reset should reload through the manager")
	}
	var sawReload bool
	for _, e := range pub.Events() {
		if e.Source == "manager" && e.Name == "reload_done" {
			sawReload = true
		}
	}
	if !sawReload {
		t.Fatalf("manager reload events not published")
	}
}
