package logcollection

import "strings"

// MarkerMatcher does plain substring matching. Unrelated output around a marker is ignored,
// and a missed marker is tolerated because the readiness gate has a fallback timer.
type MarkerMatcher struct {
	markers []string
}

func NewMarkerMatcher(markers []string) *MarkerMatcher {
	filtered := make([]string, 0, len(markers))
	for _, marker := range markers {
		if marker != "" {
			filtered = append(filtered, marker)
		}
	}
	return &MarkerMatcher{markers: filtered}
}

func (m *MarkerMatcher) Match(line string) (string, bool) {
	for _, marker := range m.markers {
		if strings.Contains(line, marker) {
			return marker, true
		}
	}
	return "", false
}

func (m *MarkerMatcher) Markers() []string {
	return append([]string(nil), m.markers...)
}
