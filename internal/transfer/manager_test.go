package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"llavad/internal/events"
	"llavad/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// payload served by the test server, 64KiB so progress fires several times.
var payload = func() []byte {
	b := make([]byte, 64*1024)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}()

func newRegistry(t *testing.T, uri string) (*registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	cat := []registry.Descriptor{
		{ID: "m", DisplayName: "M", FileName: "m.gguf", SourceURI: uri},
		{ID: "other", DisplayName: "O", FileName: "o.gguf", SourceURI: uri},
		{ID: "local", DisplayName: "L", FileName: "l.gguf"},
	}
	r, err := registry.NewRegistry(dir, cat)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r, dir
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestStart_SuccessMovesFileAndRefreshes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		for off := 0; off < len(payload); off += 8 * 1024 {
			_, _ = w.Write(payload[off : off+8*1024])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	defer ts.Close()

	reg, dir := newRegistry(t, ts.URL+"/m.gguf")
	pub := events.NewMemory()
	m := New(Config{Registry: reg, Fetcher: &HTTPFetcher{Client: ts.Client()}, Publisher: pub})
	defer m.Close()

	var mu sync.Mutex
	var fracs []float64
	result := make(chan bool, 1)
	err := m.Start("m", func(f float64) {
		mu.Lock()
		fracs = append(fracs, f)
		mu.Unlock()
	}, func(ok bool) { result <- ok })
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case ok := <-result:
		if !ok {
			t.Fatalf("expected success, job=%+v", mustJob(t, m, "m"))
		}
	case <-testCtx(t).Done():
		t.Fatalf("timed out")
	}

	b, err := os.ReadFile(filepath.Join(dir, "m.gguf"))
	if err != nil || len(b) != len(payload) {
		t.Fatalf("dest file: len=%d err=%v", len(b), err)
	}
	if _, err := os.Stat(PartialPath(filepath.Join(dir, "m.gguf"))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind: %v", err)
	}
	if d, _ := reg.Get("m"); d.Presence != registry.Present {
		t.Fatalf("registry not refreshed")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fracs) == 0 || fracs[len(fracs)-1] != 1 {
		t.Fatalf("progress should end at 1: %v", fracs)
	}
	for i := 1; i < len(fracs); i++ {
		if fracs[i] < fracs[i-1] {
			t.Fatalf("progress decreased: %v", fracs)
		}
	}
	j := mustJob(t, m, "m")
	if j.Phase != PhaseSucceeded || j.Progress != 1 || j.BytesDone != int64(len(payload)) {
		t.Fatalf("unexpected job: %+v", j)
	}
	if m.Busy() {
		t.Fatalf("expected not busy")
	}
	names := pub.Names()
	if names[0] != "download_start" || names[len(names)-1] != "download_done" {
		t.Fatalf("events=%v", names)
	}
}

func TestStart_RejectsSecondWhileBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4")
		_, _ = w.Write([]byte("ab"))
		w.(http.Flusher).Flush()
		close(started)
		<-release
		_, _ = w.Write([]byte("cd"))
	}))
	defer ts.Close()

	reg, _ := newRegistry(t, ts.URL)
	m := New(Config{Registry: reg, Fetcher: &HTTPFetcher{Client: ts.Client()}})
	defer m.Close()

	firstProgress := make(chan struct{})
	var once sync.Once
	if err := m.Start("m", func(float64) { once.Do(func() { close(firstProgress) }) }, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	<-firstProgress
	if !m.Busy() {
		t.Fatalf("expected busy")
	}
	// single-flight is global, not per model
	if err := m.Start("other", nil, nil); !IsBusy(err) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if j := mustJob(t, m, "m"); j.Phase != PhaseInProgress || j.Progress != 0.5 {
		t.Fatalf("unexpected in-flight job: %+v", j)
	}
	close(release)
	if err := m.Wait(testCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if j := mustJob(t, m, "m"); j.Phase != PhaseSucceeded {
		t.Fatalf("unexpected job: %+v", j)
	}
	if _, ok := m.Job("other"); ok {
		t.Fatalf("rejected start must not create a job")
	}
}

func TestStart_FailureLeavesAbsent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	reg, dir := newRegistry(t, ts.URL)
	m := New(Config{Registry: reg, Fetcher: &HTTPFetcher{Client: ts.Client()}})
	defer m.Close()

	result := make(chan bool, 1)
	if err := m.Start("m", nil, func(ok bool) { result <- ok }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ok := <-result; ok {
		t.Fatalf("expected failure")
	}
	j := mustJob(t, m, "m")
	if j.Phase != PhaseFailed || !IsTransferError(j.Err) {
		t.Fatalf("unexpected job: %+v", j)
	}
	var te *TransferError
	if !errors.As(j.Err, &te) || te.Op != "fetch" {
		t.Fatalf("expected fetch TransferError, got %v", j.Err)
	}
	if d, _ := reg.Get("m"); d.Presence != registry.Absent {
		t.Fatalf("expected absent")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
	// the system stays usable after a failed job
	if m.Busy() {
		t.Fatalf("expected not busy after failure")
	}
}

func TestStart_ValidationErrors(t *testing.T) {
	reg, dir := newRegistry(t, "http://127.0.0.1:0/unused")
	m := New(Config{Registry: reg, Fetcher: fetcherFunc(func(context.Context, string, string, func(int64, int64)) error {
		t.Fatalf("fetch should not be called")
		return nil
	})})
	defer m.Close()

	if err := m.Start("missing", nil, nil); !errors.Is(err, registry.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if err := m.Start("local", nil, nil); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "m.gguf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Start("m", nil, nil); !errors.Is(err, ErrAlreadyPresent) {
		t.Fatalf("expected ErrAlreadyPresent, got %v", err)
	}
	if d, _ := reg.Get("m"); d.Presence != registry.Present {
		t.Fatalf("expected presence refreshed")
	}
}

func TestClose_CancelsRunningDownload(t *testing.T) {
	reg, dir := newRegistry(t, "http://unused")
	entered := make(chan struct{})
	m := New(Config{Registry: reg, Fetcher: fetcherFunc(func(ctx context.Context, _, dest string, _ func(int64, int64)) error {
		if err := os.WriteFile(dest, []byte("partial"), 0o644); err != nil {
			return err
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})})

	result := make(chan bool, 1)
	if err := m.Start("m", nil, func(ok bool) { result <- ok }); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ok := <-result; ok {
		t.Fatalf("expected canceled download to fail")
	}
	if j := mustJob(t, m, "m"); !errors.Is(j.Err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", j.Err)
	}
	if _, err := os.Stat(PartialPath(filepath.Join(dir, "m.gguf"))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind")
	}
	if err := m.Start("other", nil, nil); err == nil {
		t.Fatalf("expected start after close to fail")
	}
}

func TestWait_NoDownload(t *testing.T) {
	reg, _ := newRegistry(t, "http://unused")
	m := New(Config{Registry: reg})
	defer m.Close()
	if err := m.Wait(testCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(m.Jobs()) != 0 {
		t.Fatalf("expected no jobs")
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{PhaseIdle: "idle", PhaseInProgress: "in_progress", PhaseSucceeded: "succeeded", PhaseFailed: "failed"}
	for p, want := range cases {
		if p.String() != want {
			t.Fatalf("%d -> %q want %q", p, p.String(), want)
		}
	}
}

type fetcherFunc func(ctx context.Context, uri, dest string, onProgress func(int64, int64)) error

func (f fetcherFunc) Fetch(ctx context.Context, uri, dest string, onProgress func(int64, int64)) error {
	return f(ctx, uri, dest, onProgress)
}

func mustJob(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	j, ok := m.Job(id)
	if !ok {
		t.Fatalf("no job for %s", id)
	}
	return j
}
