package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llavad/internal/app"
	"llavad/internal/config"
	"llavad/internal/httpapi"
)

// fakeLlama mimics the llama.cpp server endpoints the adapter uses.
type fakeLlama struct {
	mu      sync.Mutex
	prompts []string
	images  int
	reply   []string
}

func (f *fakeLlama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt    string            `json:"prompt"`
			Stream    bool              `json:"stream"`
			ImageData []json.RawMessage `json:"image_data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.prompts = append(f.prompts, req.Prompt)
		f.images += len(req.ImageData)
		reply := append([]string(nil), f.reply...)
		f.mu.Unlock()
		if !req.Stream {
			_, _ = w.Write([]byte(`{"content":"","stop":true}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for _, c := range reply {
			b, _ := json.Marshal(map[string]any{"content": c, "stop": false})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
			if fl != nil {
				fl.Flush()
			}
		}
		_, _ = io.WriteString(w, "data: {\"content\":\"\",\"stop\":true,\"stopped_eos\":true}\n\n")
	})
	return mux
}

func (f *fakeLlama) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeLlama) imageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images
}

type stack struct {
	api   *httptest.Server
	llama *fakeLlama
	app   *app.App
}

// newStack wires the real app and HTTP API to a fake llama.cpp server and a
// static file server that serves model downloads.
func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"a.gguf", "mmproj-model-f16.gguf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("gguf"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	llama := &fakeLlama{reply: []string{"A ", "cat."}}
	llamaSrv := httptest.NewServer(llama.handler())
	t.Cleanup(llamaSrv.Close)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 4096))
	}))
	t.Cleanup(files.Close)

	cfg := config.Config{
		ModelsDir:      dir,
		LlamaServerURL: llamaSrv.URL,
		DeviceRAMGiB:   16,
		Models: []config.ModelEntry{
			{ID: "a", DisplayName: "A", FileName: "a.gguf", SourceURI: files.URL + "/a"},
			{ID: "b", DisplayName: "B", FileName: "b.gguf", SourceURI: files.URL + "/b"},
		},
	}
	cfg.ApplyDefaults()
	a, err := app.New(cfg, zerolog.Nop(), app.Options{})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	api := httptest.NewServer(httpapi.NewMux(a))
	// Cleanups run LIFO: close the API before the app and fake servers.
	t.Cleanup(func() { _ = a.Close() })
	t.Cleanup(api.Close)
	return &stack{api: api, llama: llama, app: a}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(testCtx(t), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(testCtx(t), http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
