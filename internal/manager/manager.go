package manager

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"llavad/internal/events"
	"llavad/internal/registry"
)

type Manager struct {
	mu       sync.RWMutex
	state    State
	cur      *ModelInfo
	err      string
	selected string
	loads    uint64
	reloads  uint64

	registry      *registry.Registry
	factory       EngineFactory
	auxPath       string
	systemPrompt  string
	turnSeparator string
	loadTimeout   time.Duration

	log       zerolog.Logger
	pub       events.Publisher
	group     singleflight.Group
	startTime time.Time
}

// New constructs a Manager from ManagerConfig. A DefaultModel that is not in
// the registry is rejected.
func New(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errors.New("manager: registry is required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("manager: engine factory is required")
	}
	m := &Manager{
		state:         StateIdle,
		registry:      cfg.Registry,
		factory:       cfg.Factory,
		auxPath:       cfg.AuxPath,
		systemPrompt:  cfg.SystemPrompt,
		turnSeparator: cfg.TurnSeparator,
		loadTimeout:   cfg.LoadTimeout,
		log:           cfg.Logger,
		pub:           events.OrNop(cfg.Publisher),
		startTime:     time.Now(),
	}
	if m.loadTimeout <= 0 {
		m.loadTimeout = defaultLoadTimeout
	}
	if cfg.DefaultModel != "" {
		if err := m.Select(cfg.DefaultModel); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Select records id as the model later loads use. It does not load.
func (m *Manager) Select(id string) error {
	if _, ok := m.registry.Get(id); !ok {
		return ErrModelNotFound(id)
	}
	m.mu.Lock()
	m.selected = id
	m.mu.Unlock()
	return nil
}

// Selected returns the selected descriptor id, or "".
func (m *Manager) Selected() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// Ready reports whether the last load succeeded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.cur != nil
}

// ListModels returns the registry catalog with current presence.
func (m *Manager) ListModels() []registry.Descriptor {
	return m.registry.List()
}

// Registry exposes the backing registry.
func (m *Manager) Registry() *registry.Registry { return m.registry }

func (m *Manager) publish(name, modelID string, fields map[string]any) {
	m.pub.Publish(events.Event{Name: name, Source: "manager", ModelID: modelID, Fields: fields, Time: time.Now()})
}
