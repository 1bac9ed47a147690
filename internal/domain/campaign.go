package domain

import (
	"encoding/json"
	"fmt"
)

// Popup statuses that the runtime will arm. Anything else in the payload is skipped.
const (
	StatusActive    = "active"
	StatusPublished = "published"
)

// DecisionPayload is the boot snapshot handed to a page runtime. One per page load.
type DecisionPayload struct {
	SiteID string       `json:"siteId"`
	Popups []PopupEntry `json:"popups"`
}

// PopupEntry is one popup as it appears on the wire. Rules holds the raw CampaignSchema
// so that a single malformed campaign can be skipped without discarding the payload.
type PopupEntry struct {
	ID        string          `json:"id"`
	VersionID string          `json:"versionId"`
	Status    string          `json:"status"`
	Rules     json.RawMessage `json:"rules"`
}

// CampaignDecision is a parsed, armable popup
type CampaignDecision struct {
	CampaignID        string
	CampaignVersionID string
	Schema            CampaignSchema
}

// CampaignSchema is owned by the campaign and read-only to the runtime
type CampaignSchema struct {
	TargetingRules []Rule              `json:"targetingRules"`
	Triggers       []Trigger           `json:"triggers"`
	TriggersMode   string              `json:"triggersMode"`
	Frequency      FrequencyConfig     `json:"frequency"`
	Blocks         []Block             `json:"blocks"`
	Layout         LayoutConfig        `json:"layout"`
	Localization   *LocalizationConfig `json:"localization,omitempty"`
}

// Block is one content element of a popup
type Block struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"` // heading, text, button, image, html
	Content map[string]string `json:"content"`
	Action  string            `json:"action,omitempty"` // "close" or a URL for buttons
}

// Position values for LayoutConfig.Position
const (
	PositionCenter      = "center"
	PositionTop         = "top"
	PositionBottom      = "bottom"
	PositionBottomRight = "bottom-right"
	PositionBottomLeft  = "bottom-left"
)

// LayoutConfig controls placement and close affordances of the container
type LayoutConfig struct {
	Position     string `json:"position"`
	Width        int    `json:"width,omitempty"`
	CloseButton  string `json:"closeButton,omitempty"` // inside, outside, none
	OverlayClose bool   `json:"overlayClose"`
	Overlay      *bool  `json:"overlay,omitempty"`
	Animation    string `json:"animation,omitempty"`
}

// HasOverlay reports whether the container renders a backdrop. Defaults to true.
func (l LayoutConfig) HasOverlay() bool {
	return l.Overlay == nil || *l.Overlay
}

// Decisions parses the payload into armable campaigns, preserving payload order.
// Entries that are not active or whose schema does not decode are reported in skipped.
func (p *DecisionPayload) Decisions() (decisions []CampaignDecision, skipped map[string]error) {
	skipped = make(map[string]error)
	if p == nil {
		return nil, skipped
	}

	for _, entry := range p.Popups {
		if entry.ID == "" {
			continue
		}
		if entry.Status != "" && entry.Status != StatusActive && entry.Status != StatusPublished {
			skipped[entry.ID] = fmt.Errorf("status %q is not armable", entry.Status)
			continue
		}

		var schema CampaignSchema
		if len(entry.Rules) > 0 {
			if err := json.Unmarshal(entry.Rules, &schema); err != nil {
				skipped[entry.ID] = fmt.Errorf("malformed schema: %w", err)
				continue
			}
		}

		decisions = append(decisions, CampaignDecision{
			CampaignID:        entry.ID,
			CampaignVersionID: entry.VersionID,
			Schema:            schema,
		})
	}

	return decisions, skipped
}

// ContentFields flattens block content into "blockID.prop" keys, the unit of translation.
func (s CampaignSchema) ContentFields() map[string]string {
	fields := make(map[string]string)
	for _, b := range s.Blocks {
		for prop, value := range b.Content {
			fields[FieldKey(b.ID, prop)] = value
		}
	}
	return fields
}

// FieldKey builds the translation key of a block property
func FieldKey(blockID, prop string) string {
	return blockID + "." + prop
}
