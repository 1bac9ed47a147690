package runtime

import (
	"popup-runtime/internal/display"
)

// Inspection is the read-only debug view of a runtime
type Inspection struct {
	SiteID     string              `json:"siteId"`
	Visible    string              `json:"visible,omitempty"`
	Resolution *display.Inspection `json:"resolution,omitempty"`
	Campaigns  []CampaignStatus    `json:"campaigns"`
}

// Inspect exposes the last language decision and the outcome of every campaign.
// It is only available in debug mode.
func (r *Runtime) Inspect() (Inspection, error) {
	if !r.opts.Debug {
		return Inspection{}, ErrDebugDisabled
	}

	out := Inspection{SiteID: r.opts.SiteID}
	if id, ok := r.display.Visible(); ok {
		out.Visible = id
	}
	if res, ok := r.display.LastInspection(); ok {
		out.Resolution = &res
	}

	r.mu.Lock()
	out.Campaigns = append([]CampaignStatus{}, r.campaigns...)
	r.mu.Unlock()
	return out, nil
}
