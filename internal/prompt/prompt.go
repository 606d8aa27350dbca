// Package prompt loads the per-channel system contexts and the scenario
// catalog. Templates are configuration data: versioned, immutable, read
// once at startup into an in-memory map. Narrative steering (including the
// soft wrap-up range) lives entirely in template text; the only code-level
// completion trigger is the hard turn ceiling in the engine.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taleweaver/taleweaver/internal/domain"
)

//go:embed data/templates.json data/scenarios.json
var dataFS embed.FS

// HistoryWindow is the number of recent turns included in a provider
// request, newest human turn included.
const HistoryWindow = 12

// Library holds the loaded prompt templates.
type Library struct {
	version   int
	marker    string
	templates map[domain.Channel]string
}

type templateFile struct {
	Version  int               `json:"version"`
	Marker   string            `json:"marker"`
	Channels map[string]string `json:"channels"`
}

// Load parses the embedded template configuration.
func Load() (*Library, error) {
	raw, err := dataFS.ReadFile("data/templates.json")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var tf templateFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if tf.Marker == "" {
		return nil, fmt.Errorf("templates missing completion marker")
	}

	templates := make(map[domain.Channel]string, len(tf.Channels))
	for name, text := range tf.Channels {
		ch := domain.Channel(name)
		if !ch.Valid() {
			return nil, fmt.Errorf("templates reference unknown channel %q", name)
		}
		templates[ch] = text
	}
	for _, ch := range []domain.Channel{domain.ChannelMain, domain.ChannelHelper} {
		if _, ok := templates[ch]; !ok {
			return nil, fmt.Errorf("templates missing channel %q", ch)
		}
	}

	return &Library{
		version:   tf.Version,
		marker:    tf.Marker,
		templates: templates,
	}, nil
}

// Version returns the template configuration version.
func (l *Library) Version() int {
	return l.version
}

// Marker returns the reserved completion token the main-channel template
// instructs the model to emit at the narrative's natural end.
func (l *Library) Marker() string {
	return l.marker
}

// System renders the system context for a channel and scenario.
func (l *Library) System(ch domain.Channel, sc *domain.Scenario) string {
	r := strings.NewReplacer(
		"{{title}}", sc.Title,
		"{{description}}", sc.Description,
		"{{level}}", sc.Level,
		"{{setting}}", sc.Setting,
		"{{marker}}", l.marker,
	)
	return r.Replace(l.templates[ch])
}

// Scenarios parses the embedded scenario catalog.
func Scenarios() ([]*domain.Scenario, error) {
	raw, err := dataFS.ReadFile("data/scenarios.json")
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}

	var scenarios []*domain.Scenario
	if err := json.Unmarshal(raw, &scenarios); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}

	now := time.Now()
	for _, sc := range scenarios {
		if sc.ID == "" || sc.Title == "" {
			return nil, fmt.Errorf("scenario catalog entry missing id or title")
		}
		if sc.CreatedAt.IsZero() {
			sc.CreatedAt = now
		}
	}
	return scenarios, nil
}
