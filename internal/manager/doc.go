// Package manager owns the model lifecycle: selecting a catalog descriptor,
// validating its on-disk artifacts, and producing Engine handles for the
// session. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, selection.
//   - config.go: ManagerConfig and package defaults.
//   - types.go: State, ModelInfo, Snapshot.
//   - errors.go: LoadError and sentinel errors with Is* helpers.
//   - ensure.go: SelectAndLoad, Ensure and Reload. The daemon switches
//     models with Select followed by Reload, run by the session once no
//     turn is in flight, so the previous engine is closed first.
//     SelectAndLoad is the standalone form for callers that hold no
//     session; it leaves closing any earlier engine to them.
//   - status_report.go: Snapshot and Status helpers.
//   - sanity.go: Preflight checks.
//   - adapter_iface.go: the Engine and EngineFactory boundary, plus the
//     optional Stopper.
//   - stream.go: fragment streaming shared by the adapters.
//
// Build tags and runtimes:
//
//   - In-process llama: go-llama.cpp adapter, enabled with `-tags=llama`.
//     Files: adapter_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub is compiled when the tag is not set: adapter_llama_stub.go.
//     The binding has no projector support, so this engine is text only.
//
//   - External llama.cpp server (default): adapter_llama_server.go talks to
//     the native /completion endpoint and forwards images as image_data.
package manager
