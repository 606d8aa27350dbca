package engine

import (
	"strings"
)

// DefaultHardCeiling is the main-channel exchange count at which a session
// is force-completed even if the narrative marker never appears.
const DefaultHardCeiling = 30

// Detector decides whether a main-channel assistant turn should complete
// the session: either the reserved completion marker appears in the
// generated text, or the exchange count has reached the hard ceiling.
// It has no side effects.
type Detector struct {
	Marker  string
	Ceiling int
}

// NewDetector creates a Detector for the given marker token and ceiling.
func NewDetector(marker string, ceiling int) Detector {
	if ceiling <= 0 {
		ceiling = DefaultHardCeiling
	}
	return Detector{Marker: marker, Ceiling: ceiling}
}

// Strip removes the completion marker from generated text, reporting
// whether it was present. The marker is stripped before persistence so it
// never reaches the client.
func (d Detector) Strip(text string) (string, bool) {
	if d.Marker == "" || !strings.Contains(text, d.Marker) {
		return text, false
	}
	cleaned := strings.ReplaceAll(text, d.Marker, "")
	return strings.TrimSpace(cleaned), true
}

// Reached reports whether the exchange count has hit the hard ceiling.
func (d Detector) Reached(count int) bool {
	return count >= d.Ceiling
}
