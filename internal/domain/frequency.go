package domain

import "time"

// FrequencyConfig caps how often a campaign is shown to the same visitor
type FrequencyConfig struct {
	MaxPerSession           *int `json:"maxPerSession,omitempty"`
	MaxPer24h               *int `json:"maxPer24h,omitempty"`
	CooldownAfterCloseHours *int `json:"cooldownAfterCloseHours,omitempty"`
	ShowOnce                bool `json:"showOnce"`
	// PerCampaign includes the version in the frequency key, so republishing resets the caps.
	PerCampaign bool `json:"perCampaign"`
}

// FrequencyRecord is the durable per-campaign history of a visitor
type FrequencyRecord struct {
	ShownTotal    int        `json:"shownTotal"`
	Shown24h      int        `json:"shown24h"`
	LastShownAt   *time.Time `json:"lastShownAt,omitempty"`
	LastClosedAt  *time.Time `json:"lastClosedAt,omitempty"`
	LastDayBucket string     `json:"lastDayBucket,omitempty"` // YYYY-MM-DD
}
