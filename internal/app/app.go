// Package app wires the registry, transfer manager, model manager and
// session into the service used by the HTTP API and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"llavad/internal/common/fsutil"
	"llavad/internal/config"
	"llavad/internal/events"
	"llavad/internal/manager"
	"llavad/internal/registry"
	"llavad/internal/session"
	"llavad/internal/transfer"
	"llavad/pkg/types"
)

// App owns every component for one models directory.
type App struct {
	Registry  *registry.Registry
	Transfers *transfer.Manager
	Manager   *manager.Manager
	Session   *session.Session
	Hub       *events.Hub

	log    zerolog.Logger
	ramGiB int
	start  time.Time
}

// Options overrides pieces of the wiring, mostly for tests.
type Options struct {
	Factory   manager.EngineFactory
	Fetcher   transfer.Fetcher
	Publisher events.Publisher
}

// New builds an App from an already defaulted and validated Config.
func New(cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	aux, err := fsutil.ExpandHome(cfg.AuxPath)
	if err != nil {
		return nil, err
	}
	reg, err := registry.NewRegistry(cfg.ModelsDir, registry.MergeCatalog(registry.DefaultCatalog(), cfg.Models))
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	hub := events.NewHub(64)
	pub := events.Publisher(hub)
	if opts.Publisher != nil {
		pub = events.Multi{hub, opts.Publisher}
	}

	factory := opts.Factory
	if factory == nil {
		factory = NewFactory(cfg, log)
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = session.DefaultSystemPrompt
	}
	mgr, err := manager.New(manager.ManagerConfig{
		Registry:      reg,
		Factory:       factory,
		AuxPath:       aux,
		SystemPrompt:  systemPrompt,
		TurnSeparator: session.DefaultTurnSeparator,
		DefaultModel:  cfg.DefaultModel,
		Logger:        log.With().Str("component", "manager").Logger(),
		Publisher:     pub,
	})
	if err != nil {
		return nil, err
	}
	sess, err := session.New(session.Config{
		Loader:               mgr,
		MaxCompletionRetries: cfg.MaxCompletionRetries,
		Logger:               log.With().Str("component", "session").Logger(),
		Publisher:            pub,
	})
	if err != nil {
		return nil, err
	}
	xfer := transfer.New(transfer.Config{
		Registry:  reg,
		Fetcher:   opts.Fetcher,
		Logger:    log.With().Str("component", "transfer").Logger(),
		Publisher: pub,
	})

	ram := cfg.DeviceRAMGiB
	if ram <= 0 {
		ram = registry.DeviceRAMGiB()
	}
	return &App{
		Registry:  reg,
		Transfers: xfer,
		Manager:   mgr,
		Session:   sess,
		Hub:       hub,
		log:       log,
		ramGiB:    ram,
		start:     time.Now(),
	}, nil
}

// NewFactory picks the engine backend named by cfg.Engine.
func NewFactory(cfg config.Config, log zerolog.Logger) manager.EngineFactory {
	params := manager.GenParams{Stop: []string{session.DefaultBoundaryMarkers[0]}}
	if cfg.Engine == config.EngineLlama {
		return manager.NewLlamaFactory(manager.LlamaConfig{
			CtxSize:     cfg.CtxSize,
			Threads:     cfg.Threads,
			TokenBudget: cfg.TokenBudget,
			Params:      params,
			Logger:      log.With().Str("component", "llama").Logger(),
		})
	}
	return manager.NewLlamaServerFactory(manager.ServerConfig{
		BaseURL:     cfg.LlamaServerURL,
		TokenBudget: cfg.TokenBudget,
		Params:      params,
		Logger:      log.With().Str("component", "llama_server").Logger(),
	})
}

// Close stops any running download.
func (a *App) Close() error {
	return a.Transfers.Close()
}

// DeviceRAMGiB is the RAM figure used for download gating; 0 means unknown.
func (a *App) DeviceRAMGiB() int { return a.ramGiB }

// Models lists the catalog and sideloaded files.
func (a *App) Models() types.ModelsResponse {
	a.Registry.Refresh()
	out := types.ModelsResponse{Models: []types.Model{}}
	for _, d := range a.Registry.List() {
		m := a.model(d)
		if j, ok := a.Transfers.Job(d.ID); ok {
			p := j.Progress
			m.DownloadProgress = &p
			m.DownloadPhase = j.Phase.String()
		}
		out.Models = append(out.Models, m)
	}
	side, err := a.Registry.Scan()
	if err != nil {
		a.log.Warn().Str("event", "scan_error").Err(err).Msg("app")
	}
	for _, d := range side {
		out.Sideloaded = append(out.Sideloaded, a.model(d))
	}
	return out
}

func (a *App) model(d registry.Descriptor) types.Model {
	path, _ := a.Registry.Locate(d.ID)
	if d.Sideloaded {
		path = filepath.Join(a.Registry.Dir(), d.FileName)
	}
	m := types.Model{
		ID:         d.ID,
		Name:       d.DisplayName,
		FileName:   d.FileName,
		Path:       path,
		SourceURI:  d.SourceURI,
		MinRAMGiB:  d.MinRAMGiB,
		Present:    d.Presence == registry.Present,
		Sideloaded: d.Sideloaded,
	}
	if m.Present {
		m.Size = humanize.Bytes(uint64(fsutil.FileSize(path)))
	}
	return m
}

// StartDownload gates on device RAM and starts the transfer.
func (a *App) StartDownload(id string) (types.DownloadJob, error) {
	if err := a.startDownload(id, nil); err != nil {
		return types.DownloadJob{}, err
	}
	j, _ := a.Transfers.Job(id)
	return downloadJob(j), nil
}

// Download starts a transfer and waits for it, reporting progress fractions.
func (a *App) Download(ctx context.Context, id string, onProgress func(float64)) error {
	if err := a.startDownload(id, onProgress); err != nil {
		return err
	}
	if err := a.Transfers.Wait(ctx); err != nil {
		return err
	}
	if j, ok := a.Transfers.Job(id); ok && j.Err != nil {
		return j.Err
	}
	return nil
}

func (a *App) startDownload(id string, onProgress func(float64)) error {
	d, ok := a.Registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownModel, id)
	}
	if err := registry.CheckRAM(d, a.ramGiB); err != nil {
		return err
	}
	return a.Transfers.Start(id, onProgress, nil)
}

// Downloads lists download jobs.
func (a *App) Downloads() types.DownloadsResponse {
	out := types.DownloadsResponse{Busy: a.Transfers.Busy(), Jobs: []types.DownloadJob{}}
	for _, j := range a.Transfers.Jobs() {
		out.Jobs = append(out.Jobs, downloadJob(j))
	}
	return out
}

func downloadJob(j transfer.Job) types.DownloadJob {
	dj := types.DownloadJob{
		ID:         j.ID,
		ModelID:    j.ModelID,
		Phase:      j.Phase.String(),
		Progress:   j.Progress,
		BytesDone:  j.BytesDone,
		BytesTotal: j.BytesTotal,
		StartedAt:  j.StartedAt.Unix(),
	}
	if j.Err != nil {
		dj.Error = j.Err.Error()
	}
	return dj
}

// SelectModel switches the selection and resets the session so the next
// turn runs on the new model. A turn already running finishes on the model
// it started with; the switch happens once it is done. The load error, if
// any, is returned.
func (a *App) SelectModel(ctx context.Context, id string) (types.SelectResponse, error) {
	if _, ok := a.Registry.Get(id); !ok {
		return types.SelectResponse{}, manager.ErrModelNotFound(id)
	}
	err := a.Session.ResetWith(ctx, func() error { return a.Manager.Select(id) })
	return types.SelectResponse{Model: id, State: string(a.Manager.Snapshot().State)}, err
}

// SubmitTurn runs one chat turn.
func (a *App) SubmitTurn(ctx context.Context, text string, image []byte) (types.TurnResponse, error) {
	msg, err := a.Session.SubmitTurn(ctx, text, image)
	if err != nil {
		return types.TurnResponse{}, err
	}
	return types.TurnResponse{Message: message(msg), Phase: a.Session.Phase().String()}, nil
}

// ResetSession clears the conversation and reloads the engine.
func (a *App) ResetSession(ctx context.Context) error {
	return a.Session.Reset(ctx)
}

// SessionState reports the conversation.
func (a *App) SessionState() types.SessionResponse {
	snap := a.Session.Snapshot()
	out := types.SessionResponse{
		Phase:           snap.Phase.String(),
		Messages:        make([]types.Message, 0, len(snap.Messages)),
		HasImageContext: snap.HasImageContext,
		TranscriptBytes: snap.TranscriptBytes,
		Model:           a.Manager.Selected(),
	}
	for _, m := range snap.Messages {
		out.Messages = append(out.Messages, message(m))
	}
	return out
}

func message(m session.Message) types.Message {
	return types.Message{
		ID:          m.ID,
		Seq:         m.Seq,
		Speaker:     m.Speaker.String(),
		Text:        m.Text,
		HasImage:    m.Image != nil,
		Diagnostic:  m.Diagnostic,
		CreatedAtMS: m.CreatedAt.UnixMilli(),
	}
}

// Status combines the manager snapshot, session phase and preflight checks.
func (a *App) Status(ctx context.Context) types.StatusResponse {
	snap := a.Manager.Snapshot()
	resp := types.StatusResponse{
		State:          string(snap.State),
		Model:          snap.Selected,
		Error:          snap.Err,
		Phase:          a.Session.Phase().String(),
		LoadsTotal:     snap.LoadsTotal,
		ReloadsTotal:   snap.ReloadsTotal,
		UptimeSeconds:  int64(time.Since(a.start).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	resp.Checks = a.Preflight(ctx)
	return resp
}

// Preflight runs the manager checks.
func (a *App) Preflight(ctx context.Context) []types.PreflightCheck {
	checks := a.Manager.Preflight(ctx)
	out := make([]types.PreflightCheck, 0, len(checks))
	for _, c := range checks {
		out = append(out, types.PreflightCheck{Name: c.Name, OK: c.OK, Detail: c.Detail})
	}
	return out
}

// Ready reports whether an engine has been loaded.
func (a *App) Ready() bool { return a.Manager.Ready() }

// Subscribe streams events to one consumer.
func (a *App) Subscribe() (<-chan events.Event, func()) { return a.Hub.Subscribe() }

// IsNotFound reports errors that name an unknown model.
func IsNotFound(err error) bool {
	return errors.Is(err, registry.ErrUnknownModel) || manager.IsModelNotFound(err)
}
