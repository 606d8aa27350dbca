package engine

import (
	"testing"
)

func TestDetectorStrip(t *testing.T) {
	d := NewDetector("[SCENE_COMPLETE]", 30)

	tests := []struct {
		name       string
		text       string
		wantText   string
		wantMarker bool
	}{
		{
			name:       "no marker",
			text:       "Guten Tag! Was darf es sein?",
			wantText:   "Guten Tag! Was darf es sein?",
			wantMarker: false,
		},
		{
			name:       "marker at end",
			text:       "Auf Wiedersehen! [SCENE_COMPLETE]",
			wantText:   "Auf Wiedersehen!",
			wantMarker: true,
		},
		{
			name:       "marker mid-text",
			text:       "Tschüss! [SCENE_COMPLETE] Bis bald!",
			wantText:   "Tschüss!  Bis bald!",
			wantMarker: true,
		},
		{
			name:       "marker only",
			text:       "[SCENE_COMPLETE]",
			wantText:   "",
			wantMarker: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, marker := d.Strip(tt.text)
			if got != tt.wantText {
				t.Errorf("Strip text = %q, want %q", got, tt.wantText)
			}
			if marker != tt.wantMarker {
				t.Errorf("Strip marker = %v, want %v", marker, tt.wantMarker)
			}
		})
	}
}

func TestDetectorCeiling(t *testing.T) {
	d := NewDetector("[SCENE_COMPLETE]", 30)

	if d.Reached(29) {
		t.Error("29 should not reach ceiling of 30")
	}
	if !d.Reached(30) {
		t.Error("30 should reach ceiling of 30")
	}
	if !d.Reached(31) {
		t.Error("31 should reach ceiling of 30")
	}
}

func TestDetectorDefaultCeiling(t *testing.T) {
	d := NewDetector("[X]", 0)
	if d.Ceiling != DefaultHardCeiling {
		t.Errorf("Ceiling = %d, want default %d", d.Ceiling, DefaultHardCeiling)
	}
}
