package manager

import "time"

// State represents lifecycle state of the manager.
type State string

const (
	StateIdle    State = "idle"
	StateReady   State = "ready"
	StateLoading State = "loading"
	StateError   State = "error"
)

// ModelInfo is a minimal view of the loaded model.
type ModelInfo struct {
	ID       string
	Name     string
	Path     string
	AuxPath  string
	LoadedAt time.Time
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	Selected     string
	CurrentModel *ModelInfo
	Err          string
	LoadsTotal   uint64
	ReloadsTotal uint64
	Uptime       time.Duration
}
