package manager

import (
	"context"
	"path/filepath"
	"time"

	"llavad/internal/common/fsutil"
)

// SelectAndLoad selects id and creates an engine for it. Checks run in
// order: model artifact, aux asset, engine creation.
func (m *Manager) SelectAndLoad(ctx context.Context, id string) (Engine, error) {
	if err := m.Select(id); err != nil {
		return nil, err
	}
	return m.load(ctx, id)
}

// Ensure returns e when non-nil. Otherwise it loads the selected model;
// concurrent callers share one load.
func (m *Manager) Ensure(ctx context.Context, e Engine) (Engine, error) {
	if e != nil {
		return e, nil
	}
	id := m.Selected()
	if id == "" {
		return nil, ErrNoModelSelected
	}
	v, err, shared := m.group.Do(id, func() (any, error) {
		return m.load(ctx, id)
	})
	if shared {
		m.log.Debug().Str("event", "ensure_shared").Str("model", id).Msg("manager")
	}
	if err != nil {
		return nil, err
	}
	return v.(Engine), nil
}

// Reload resets and closes e, then loads the selected model again.
func (m *Manager) Reload(ctx context.Context, e Engine) (Engine, error) {
	id := m.Selected()
	m.mu.Lock()
	m.reloads++
	m.mu.Unlock()
	m.publish("reload_start", id, nil)
	m.log.Info().Str("event", "reload_start").Str("model", id).Msg("manager")
	if e != nil {
		if err := e.Reset(ctx); err != nil {
			m.log.Warn().Str("event", "engine_reset_error").Str("model", id).Err(err).Msg("manager")
		}
		if err := e.Close(); err != nil {
			m.log.Warn().Str("event", "engine_close_error").Str("model", id).Err(err).Msg("manager")
		}
	}
	if id == "" {
		m.mu.Lock()
		m.cur = nil
		m.state = StateIdle
		m.mu.Unlock()
		return nil, ErrNoModelSelected
	}
	ne, err := m.load(ctx, id)
	fields := map[string]any{"ok": err == nil}
	m.publish("reload_done", id, fields)
	m.log.Info().Str("event", "reload_done").Str("model", id).Bool("ok", err == nil).Msg("manager")
	return ne, err
}

func (m *Manager) load(ctx context.Context, id string) (Engine, error) {
	desc, ok := m.registry.Get(id)
	if !ok {
		return nil, ErrModelNotFound(id)
	}
	path, err := m.registry.Locate(id)
	if err != nil {
		return nil, ErrModelNotFound(id)
	}
	m.mu.Lock()
	m.state = StateLoading
	m.err = ""
	m.mu.Unlock()
	m.publish("load_start", id, map[string]any{"path": path})
	m.log.Info().Str("event", "load_start").Str("model", id).Str("path", path).Msg("manager")
	start := time.Now()

	if !fsutil.IsFile(path) {
		return nil, m.fail(&LoadError{Kind: MissingArtifact, ModelID: id, Path: path})
	}
	if !fsutil.IsFile(m.auxPath) {
		return nil, m.fail(&LoadError{Kind: MissingAuxAsset, ModelID: id, Path: m.auxPath})
	}
	cctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()
	e, err := m.factory.Create(cctx, CreateParams{
		ModelPath:     path,
		AuxPath:       m.auxPath,
		SystemPrompt:  m.systemPrompt,
		TurnSeparator: m.turnSeparator,
	})
	if err != nil {
		return nil, m.fail(&LoadError{Kind: EngineInitFailed, ModelID: id, Path: path, Err: err})
	}

	m.mu.Lock()
	m.cur = &ModelInfo{ID: id, Name: desc.DisplayName, Path: path, AuxPath: m.auxPath, LoadedAt: time.Now()}
	m.state = StateReady
	m.loads++
	m.mu.Unlock()
	loadsTotal.WithLabelValues("ok").Inc()
	dur := time.Since(start)
	m.publish("load_ready", id, map[string]any{"duration_ms": dur.Milliseconds()})
	m.log.Info().Str("event", "load_ready").Str("model", id).Dur("duration", dur).Msg("manager")
	return e, nil
}

func (m *Manager) fail(le *LoadError) error {
	m.mu.Lock()
	m.cur = nil
	m.state = StateError
	m.err = le.Error()
	m.mu.Unlock()
	loadsTotal.WithLabelValues(le.Kind.String()).Inc()
	m.publish("load_error", le.ModelID, map[string]any{"kind": le.Kind.String(), "path": filepath.Base(le.Path)})
	m.log.Warn().Str("event", "load_error").Str("model", le.ModelID).Str("kind", le.Kind.String()).Err(le.Err).Msg("manager")
	return le
}
