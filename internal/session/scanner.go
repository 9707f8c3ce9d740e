package session

import "strings"

type scanResult int

const (
	scanContinue scanResult = iota
	scanBoundary
	scanDegenerate
)

// markerScanner finds boundary and degenerate markers in a fragment stream.
// A marker split across fragments is still found; text that might be the
// start of a marker is held back until the next fragment settles it.
type markerScanner struct {
	boundary   []string
	degenerate []string
	held       string
	done       bool
}

func newMarkerScanner(boundary, degenerate []string) *markerScanner {
	return &markerScanner{boundary: nonEmpty(boundary), degenerate: nonEmpty(degenerate)}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// feed consumes frag and returns the text now known not to be part of a
// marker. After a non-continue result the scanner ignores further input.
func (m *markerScanner) feed(frag string) (string, scanResult) {
	if m.done {
		return "", scanContinue
	}
	buf := m.held + frag
	m.held = ""

	// A degenerate marker anywhere in the buffer aborts, even after a boundary.
	for _, mk := range m.degenerate {
		if strings.Contains(buf, mk) {
			m.done = true
			return "", scanDegenerate
		}
	}
	at := -1
	for _, mk := range m.boundary {
		if i := strings.Index(buf, mk); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at >= 0 {
		m.done = true
		return buf[:at], scanBoundary
	}

	keep := m.prefixLen(buf)
	m.held = buf[len(buf)-keep:]
	return buf[:len(buf)-keep], scanContinue
}

// prefixLen is the length of the longest suffix of buf that is a proper
// prefix of some marker.
func (m *markerScanner) prefixLen(buf string) int {
	best := 0
	check := func(markers []string) {
		for _, mk := range markers {
			for n := min(len(mk)-1, len(buf)); n > best; n-- {
				if strings.HasSuffix(buf, mk[:n]) {
					best = n
					break
				}
			}
		}
	}
	check(m.boundary)
	check(m.degenerate)
	return best
}

// pending returns held-back text.
func (m *markerScanner) pending() string { return m.held }
