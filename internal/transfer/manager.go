// Package transfer downloads model artifacts into the registry's directory.
// At most one download runs at a time across the whole registry.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llavad/internal/common/fsutil"
	"llavad/internal/events"
	"llavad/internal/registry"
)

// Phase is the lifecycle of a download job.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInProgress
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInProgress:
		return "in_progress"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Job is a snapshot of one model's download.
type Job struct {
	ID         string
	ModelID    string
	Phase      Phase
	Progress   float64
	BytesDone  int64
	BytesTotal int64
	Err        error
	StartedAt  time.Time
}

const defaultLogEvery = 0.05

// Config wires the transfer manager.
type Config struct {
	Registry  *registry.Registry
	Fetcher   Fetcher
	Logger    zerolog.Logger
	Publisher events.Publisher
	// LogEvery is the progress step between log lines and progress events.
	LogEvery float64
}

// Manager runs model downloads. The zero value is not usable; use New.
type Manager struct {
	reg      *registry.Registry
	fetcher  Fetcher
	log      zerolog.Logger
	pub      events.Publisher
	logEvery float64

	baseCtx context.Context
	stop    context.CancelFunc

	mu   sync.Mutex
	busy bool
	done chan struct{}
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// New constructs a Manager. A nil Fetcher defaults to NewHTTPFetcher.
func New(cfg Config) *Manager {
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(0)
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = defaultLogEvery
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		reg:      cfg.Registry,
		fetcher:  cfg.Fetcher,
		log:      cfg.Logger,
		pub:      events.OrNop(cfg.Publisher),
		logEvery: cfg.LogEvery,
		baseCtx:  ctx,
		stop:     cancel,
		jobs:     make(map[string]*Job),
	}
}

// PartialPath is where an in-flight download of dest is written.
func PartialPath(dest string) string {
	return filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".partial")
}

// Start begins downloading model id in the background. onProgress receives
// a non-decreasing fraction in [0,1]; onComplete is called exactly once after
// the job settles and the registry has been refreshed. Either callback may
// be nil.
func (m *Manager) Start(id string, onProgress func(float64), onComplete func(bool)) error {
	d, ok := m.reg.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownModel, id)
	}
	if d.SourceURI == "" {
		return fmt.Errorf("%w: %s", ErrNoSource, id)
	}
	dest, err := m.reg.Locate(id)
	if err != nil {
		return err
	}
	if fsutil.IsFile(dest) {
		m.reg.Refresh()
		return fmt.Errorf("%w: %s", ErrAlreadyPresent, id)
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if err := m.baseCtx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.busy = true
	m.done = make(chan struct{})
	job := &Job{
		ID:        uuid.NewString(),
		ModelID:   id,
		Phase:     PhaseInProgress,
		StartedAt: time.Now(),
	}
	m.jobs[id] = job
	done := m.done
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.Info().Str("event", "download_start").Str("model", id).Str("uri", d.SourceURI).Msg("download start")
	m.pub.Publish(events.Event{Name: "download_start", Source: "transfer", ModelID: id, Fields: map[string]any{"job": job.ID}})

	go m.run(d, dest, job, done, onProgress, onComplete)
	return nil
}

func (m *Manager) run(d registry.Descriptor, dest string, job *Job, done chan struct{}, onProgress func(float64), onComplete func(bool)) {
	defer m.wg.Done()
	tmp := PartialPath(dest)
	nextLog := m.logEvery

	progress := func(n, total int64) {
		m.mu.Lock()
		job.BytesDone = n
		job.BytesTotal = total
		frac := job.Progress
		if total > 0 {
			frac = float64(n) / float64(total)
			if frac > 1 {
				frac = 1
			}
		}
		changed := frac > job.Progress
		if changed {
			job.Progress = frac
		}
		m.mu.Unlock()
		downloadBytes.Set(float64(n))
		if !changed {
			return
		}
		if onProgress != nil {
			onProgress(frac)
		}
		if frac >= nextLog {
			for nextLog <= frac {
				nextLog += m.logEvery
			}
			m.log.Debug().Str("event", "download_progress").Str("model", d.ID).
				Str("done", humanize.Bytes(uint64(n))).Str("total", humanize.Bytes(uint64(total))).
				Float64("progress", frac).Msg("download progress")
			m.pub.Publish(events.Event{Name: "download_progress", Source: "transfer", ModelID: d.ID, Fields: map[string]any{"progress": frac}})
		}
	}

	var terr error
	if err := m.fetcher.Fetch(m.baseCtx, d.SourceURI, tmp, progress); err != nil {
		terr = &TransferError{ModelID: d.ID, Op: "fetch", Err: err}
	} else if err := os.Rename(tmp, dest); err != nil {
		terr = &TransferError{ModelID: d.ID, Op: "move", Err: err}
	}
	if terr != nil {
		_ = os.Remove(tmp)
	}
	m.reg.Refresh()

	m.mu.Lock()
	if terr != nil {
		job.Phase = PhaseFailed
		job.Err = terr
	} else {
		job.Phase = PhaseSucceeded
		job.Progress = 1
	}
	m.busy = false
	close(done)
	m.mu.Unlock()
	downloadBytes.Set(0)

	if terr != nil {
		downloadsTotal.WithLabelValues("failed").Inc()
		m.log.Error().Str("event", "download_failed").Str("model", d.ID).Err(terr).Msg("download failed")
		m.pub.Publish(events.Event{Name: "download_failed", Source: "transfer", ModelID: d.ID, Fields: map[string]any{"error": terr.Error()}})
	} else {
		downloadsTotal.WithLabelValues("succeeded").Inc()
		m.log.Info().Str("event", "download_done").Str("model", d.ID).
			Str("size", humanize.Bytes(uint64(fsutil.FileSize(dest)))).
			Dur("dur", time.Since(job.StartedAt)).Msg("download done")
		m.pub.Publish(events.Event{Name: "download_done", Source: "transfer", ModelID: d.ID, Fields: map[string]any{"path": dest}})
		if onProgress != nil {
			onProgress(1)
		}
	}
	if onComplete != nil {
		onComplete(terr == nil)
	}
}

// Busy reports whether a download is running.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// Job returns a copy of the latest job for model id.
func (m *Manager) Job(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns copies of all jobs ordered by start time.
func (m *Manager) Jobs() []Job {
	m.mu.Lock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}

// Wait blocks until the running download, if any, has settled.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the running download and waits for its goroutine.
func (m *Manager) Close() error {
	m.stop()
	m.wg.Wait()
	return nil
}
