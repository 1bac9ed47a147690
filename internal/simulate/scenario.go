// Package simulate replays scripted page sessions against the runtime on a manual clock.
package simulate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/page"
)

// DefaultStart is the simulated wall clock when a scenario does not set one
var DefaultStart = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// Scenario is one visitor opening one or more pages of a site
type Scenario struct {
	Name        string         `yaml:"name"`
	SiteID      string         `yaml:"site_id"`
	Start       time.Time      `yaml:"start"`
	Lang        string         `yaml:"lang"`
	Debug       bool           `yaml:"debug"`
	UserContext map[string]any `yaml:"user_context"`
	Visit       VisitSpec      `yaml:"visit"`
	Page        PageSpec       `yaml:"page"`
	Popups      []PopupSpec    `yaml:"popups"`
	Steps       []Step         `yaml:"steps"`
}

// VisitSpec seeds the visitor counters before the first page view
type VisitSpec struct {
	PageViews int `yaml:"page_views"`
	Sessions  int `yaml:"sessions"`
}

// PageSpec is the state every page load starts from
type PageSpec struct {
	URL            string  `yaml:"url"`
	Referrer       string  `yaml:"referrer"`
	ViewportWidth  int     `yaml:"viewport_width"`
	ViewportHeight int     `yaml:"viewport_height"`
	ScrollHeight   float64 `yaml:"scroll_height"`
	Lang           string  `yaml:"lang"`
	Timezone       string  `yaml:"timezone"`
}

// PopupSpec is a payload entry with its rules written inline
type PopupSpec struct {
	ID        string         `yaml:"id"`
	VersionID string         `yaml:"version_id"`
	Status    string         `yaml:"status"`
	Rules     map[string]any `yaml:"rules"`
}

// Step is exactly one action
type Step struct {
	Advance      time.Duration `yaml:"advance"`
	Scroll       *ScrollStep   `yaml:"scroll"`
	PointerLeave *float64      `yaml:"pointer_leave"`
	Activity     bool          `yaml:"activity"`
	Track        string        `yaml:"track"`
	Navigate     string        `yaml:"navigate"`
	Resize       *ResizeStep   `yaml:"resize"`
	Close        *CloseStep    `yaml:"close"`
	Click        *ClickStep    `yaml:"click"`
	Reload       bool          `yaml:"reload"`
}

type ScrollStep struct {
	Y      float64 `yaml:"y"`
	Height float64 `yaml:"height"`
}

type ResizeStep struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type CloseStep struct {
	Popup  string `yaml:"popup"`
	Method string `yaml:"method"`
}

type ClickStep struct {
	Popup string `yaml:"popup"`
	Block string `yaml:"block"`
}

// Kind names the action a step performs, or "" when it sets none
func (s Step) Kind() string {
	var kinds []string
	if s.Advance != 0 {
		kinds = append(kinds, "advance")
	}
	if s.Scroll != nil {
		kinds = append(kinds, "scroll")
	}
	if s.PointerLeave != nil {
		kinds = append(kinds, "pointer_leave")
	}
	if s.Activity {
		kinds = append(kinds, "activity")
	}
	if s.Track != "" {
		kinds = append(kinds, "track")
	}
	if s.Navigate != "" {
		kinds = append(kinds, "navigate")
	}
	if s.Resize != nil {
		kinds = append(kinds, "resize")
	}
	if s.Close != nil {
		kinds = append(kinds, "close")
	}
	if s.Click != nil {
		kinds = append(kinds, "click")
	}
	if s.Reload {
		kinds = append(kinds, "reload")
	}
	if len(kinds) != 1 {
		return strings.Join(kinds, "+")
	}
	return kinds[0]
}

// LoadFile reads and parses a scenario file
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML scenario, applies defaults and validates the steps
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	sc.applyDefaults()
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) applyDefaults() {
	if sc.SiteID == "" {
		sc.SiteID = "sim"
	}
	if sc.Start.IsZero() {
		sc.Start = DefaultStart
	}
	if sc.Page.URL == "" {
		sc.Page.URL = "https://example.test/"
	}
	if sc.Page.ViewportWidth == 0 {
		sc.Page.ViewportWidth = 1280
	}
	if sc.Page.ViewportHeight == 0 {
		sc.Page.ViewportHeight = 800
	}
	if sc.Page.ScrollHeight == 0 {
		sc.Page.ScrollHeight = 3000
	}
	if sc.Page.Lang == "" {
		sc.Page.Lang = "en"
	}
	if sc.Visit.Sessions == 0 {
		sc.Visit.Sessions = 1
	}
	for i := range sc.Popups {
		if sc.Popups[i].VersionID == "" {
			sc.Popups[i].VersionID = "v1"
		}
		if sc.Popups[i].Status == "" {
			sc.Popups[i].Status = domain.StatusActive
		}
	}
}

func (sc *Scenario) validate() error {
	seen := make(map[string]bool, len(sc.Popups))
	for i, p := range sc.Popups {
		if p.ID == "" {
			return fmt.Errorf("popup %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("popup %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	for i, step := range sc.Steps {
		kind := step.Kind()
		switch {
		case kind == "":
			return fmt.Errorf("step %d: no action", i)
		case strings.Contains(kind, "+"):
			return fmt.Errorf("step %d: more than one action (%s)", i, kind)
		case kind == "advance" && step.Advance < 0:
			return fmt.Errorf("step %d: advance must be positive", i)
		case kind == "close" && step.Close.Method != "" &&
			step.Close.Method != string(domain.CloseButton) && step.Close.Method != string(domain.CloseOverlay):
			return fmt.Errorf("step %d: close method must be button or overlay", i)
		}
	}
	return nil
}

// Payload builds the decision payload served to every page load
func (sc *Scenario) Payload() (*domain.DecisionPayload, error) {
	popups := make([]domain.PopupEntry, 0, len(sc.Popups))
	for _, p := range sc.Popups {
		rules := json.RawMessage(`{}`)
		if p.Rules != nil {
			encoded, err := json.Marshal(p.Rules)
			if err != nil {
				return nil, fmt.Errorf("popup %s: failed to encode rules: %w", p.ID, err)
			}
			rules = encoded
		}
		popups = append(popups, domain.PopupEntry{
			ID:        p.ID,
			VersionID: p.VersionID,
			Status:    p.Status,
			Rules:     rules,
		})
	}
	return &domain.DecisionPayload{SiteID: sc.SiteID, Popups: popups}, nil
}

func (p PageSpec) state() page.State {
	return page.State{
		URL:            p.URL,
		Referrer:       p.Referrer,
		ViewportWidth:  p.ViewportWidth,
		ViewportHeight: p.ViewportHeight,
		ScrollHeight:   p.ScrollHeight,
		Lang:           p.Lang,
		Timezone:       p.Timezone,
	}
}
