package manager

import (
	"errors"
	"fmt"
)

// ErrNoModelSelected is returned by Ensure and Reload before Select.
var ErrNoModelSelected = errors.New("no model selected")

// modelNotFoundError is returned when a requested id is not in the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// LoadErrorKind classifies why an engine could not be produced.
type LoadErrorKind int

const (
	MissingArtifact LoadErrorKind = iota + 1
	MissingAuxAsset
	EngineInitFailed
)

func (k LoadErrorKind) String() string {
	switch k {
	case MissingArtifact:
		return "missing_artifact"
	case MissingAuxAsset:
		return "missing_aux_asset"
	case EngineInitFailed:
		return "engine_init_failed"
	default:
		return "unknown"
	}
}

// LoadError is returned by SelectAndLoad, Ensure and Reload.
type LoadError struct {
	Kind    LoadErrorKind
	ModelID string
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load %s: %s", e.ModelID, e.Kind)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is a LoadError of kind. A zero kind
// matches any LoadError.
func IsLoadError(err error, kind LoadErrorKind) bool {
	var le *LoadError
	if !errors.As(err, &le) {
		return false
	}
	return kind == 0 || le.Kind == kind
}
