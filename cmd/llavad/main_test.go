package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"llavad/internal/manager"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestNewLogger_JSONWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn")
	l.Info().Msg("hidden")
	l.Warn().Str("event", "x").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"event":"x"`) {
		t.Fatalf("log=%s", out)
	}
}

type echoEngine struct{ n int }

func (e *echoEngine) PrimeSystemPrompt(context.Context) error { return nil }
func (e *echoEngine) BeginCompletion(context.Context, string, []byte) bool {
	e.n = 0
	return true
}
func (e *echoEngine) NextFragment(context.Context) (string, error) {
	e.n++
	switch e.n {
	case 1:
		return "pong", nil
	case 2:
		return "</s>", nil
	}
	return "", io.EOF
}
func (e *echoEngine) Reset(context.Context) error { return nil }
func (e *echoEngine) TokensEmitted() int          { return e.n }
func (e *echoEngine) TokenBudget() int            { return 16 }
func (e *echoEngine) Close() error                { return nil }

type echoFactory struct{}

func (echoFactory) Create(context.Context, manager.CreateParams) (manager.Engine, error) {
	return &echoEngine{}, nil
}

func modelsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"danube-ko-1.8B-base-Q8_0.gguf", "mmproj-model-f16.gguf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, opts *options, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmdWith(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestModelsList(t *testing.T) {
	dir := modelsDir(t)
	out, err := run(t, &options{}, "", "models", "list", "--models-dir", dir)
	if err != nil {
		t.Fatalf("models list: %v", err)
	}
	if !strings.Contains(out, "danube-ko-1.8b-q8") || !strings.Contains(out, "danube-ko-1.8b-f16") {
		t.Fatalf("out=%s", out)
	}
}

func TestModelsDownload_UnknownModel(t *testing.T) {
	if _, err := run(t, &options{}, "", "models", "download", "nope", "--models-dir", t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown model")
	}
}

func TestPreflight_ReportsFailures(t *testing.T) {
	out, err := run(t, &options{factory: echoFactory{}}, "", "preflight", "--models-dir", t.TempDir())
	if err == nil {
		t.Fatalf("expected failure without aux asset")
	}
	if !strings.Contains(out, "FAIL aux_asset") {
		t.Fatalf("out=%s", out)
	}
}

func TestChat_TurnsAndReset(t *testing.T) {
	dir := modelsDir(t)
	out, err := run(t, &options{factory: echoFactory{}}, "ping\n/reset\n/quit\n",
		"chat", "--models-dir", dir, "--model", "danube-ko-1.8b-q8")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "pong") || !strings.Contains(out, "(conversation reset)") {
		t.Fatalf("out=%s", out)
	}
}

func TestChat_RequiresModel(t *testing.T) {
	if _, err := run(t, &options{factory: echoFactory{}}, "", "chat", "--models-dir", modelsDir(t)); err == nil {
		t.Fatalf("expected error without a model")
	}
}
