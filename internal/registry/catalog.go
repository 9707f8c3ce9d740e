package registry

import "llavad/internal/config"

// Presence reports whether a descriptor's file is on disk.
type Presence int

const (
	Absent Presence = iota
	Present
)

func (p Presence) String() string {
	if p == Present {
		return "present"
	}
	return "absent"
}

// Descriptor is a catalog entry. Everything except Presence is fixed.
type Descriptor struct {
	ID          string
	DisplayName string
	FileName    string
	SourceURI   string
	MinRAMGiB   int
	Presence    Presence
	// Sideloaded marks files found by Scan that are not in the catalog.
	Sideloaded bool
}

// DefaultCatalog returns the built-in models.
func DefaultCatalog() []Descriptor {
	return []Descriptor{
		{
			ID:          "danube-ko-1.8b-f16",
			DisplayName: "Model FP16",
			FileName:    "danube-ko-1.8B-base-F16.gguf",
			SourceURI:   "https://huggingface.co/Hongik-Project-2024/danube-ko-1.8B-base-F16.gguf/resolve/main/danube-ko-1.8B-base-F16.gguf?download=true",
			MinRAMGiB:   8,
		},
		{
			ID:          "danube-ko-1.8b-q8",
			DisplayName: "Model Q8 (Lite Version)",
			FileName:    "danube-ko-1.8B-base-Q8_0.gguf",
			SourceURI:   "https://huggingface.co/Hongik-Project-2024/danube-ko-1.8B-base-Q8_0.gguf/resolve/main/danube-ko-1.8B-base-Q8_0.gguf?download=true",
			MinRAMGiB:   5,
		},
	}
}

// MergeCatalog overlays config entries on base. Entries with a known ID
// replace the built-in descriptor; unknown IDs are appended in order.
func MergeCatalog(base []Descriptor, entries []config.ModelEntry) []Descriptor {
	out := make([]Descriptor, len(base))
	copy(out, base)
	for _, e := range entries {
		d := Descriptor{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			FileName:    e.FileName,
			SourceURI:   e.SourceURI,
			MinRAMGiB:   e.MinRAMGiB,
		}
		if d.DisplayName == "" {
			d.DisplayName = e.ID
		}
		replaced := false
		for i := range out {
			if out[i].ID == d.ID {
				out[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, d)
		}
	}
	return out
}
