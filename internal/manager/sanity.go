package manager

import (
	"context"
	"os"
	"time"

	"llavad/internal/common/fsutil"
)

// Check is one named preflight result.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Preflight validates the models directory, the aux asset, the selected
// model and, when the factory has one, the external runtime. It does not
// mutate state and is safe to call at any time.
func (m *Manager) Preflight(ctx context.Context) []Check {
	var out []Check

	dir := m.registry.Dir()
	if fi, err := os.Stat(dir); err != nil {
		out = append(out, Check{Name: "models_dir", Detail: err.Error()})
	} else if !fi.IsDir() {
		out = append(out, Check{Name: "models_dir", Detail: dir + " is not a directory"})
	} else {
		out = append(out, Check{Name: "models_dir", OK: true, Detail: dir})
	}

	if fsutil.IsFile(m.auxPath) {
		out = append(out, Check{Name: "aux_asset", OK: true, Detail: m.auxPath})
	} else {
		out = append(out, Check{Name: "aux_asset", Detail: "missing " + m.auxPath})
	}

	id := m.Selected()
	switch path, err := m.registry.Locate(id); {
	case id == "":
		out = append(out, Check{Name: "selected_model", Detail: "no model selected"})
	case err != nil:
		out = append(out, Check{Name: "selected_model", Detail: err.Error()})
	case !fsutil.IsFile(path):
		out = append(out, Check{Name: "selected_model", Detail: "missing " + path})
	default:
		out = append(out, Check{Name: "selected_model", OK: true, Detail: id})
	}

	if p, ok := m.factory.(Pinger); ok {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			out = append(out, Check{Name: "engine", Detail: err.Error()})
		} else {
			out = append(out, Check{Name: "engine", OK: true, Detail: "reachable"})
		}
	} else if _, ok := m.factory.(*llamaFactory); ok {
		c := Check{Name: "engine", OK: llamaBuilt, Detail: "in-process llama"}
		if !llamaBuilt {
			c.Detail = "llama support not built (missing 'llama' build tag)"
		}
		out = append(out, c)
	}
	return out
}
