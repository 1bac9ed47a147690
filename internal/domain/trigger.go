package domain

// TriggerType identifies a trigger kind
type TriggerType string

const (
	TriggerAfterSeconds    TriggerType = "after_seconds"
	TriggerScrollPercent   TriggerType = "scroll_percent"
	TriggerExitIntent      TriggerType = "exit_intent"
	TriggerSmartExitIntent TriggerType = "smart_exit_intent"
	TriggerCustomEvent     TriggerType = "custom_event"
	TriggerInactivity      TriggerType = "inactivity"
	TriggerPageviewCount   TriggerType = "pageview_count"
	TriggerURLMatch        TriggerType = "url_match"
	TriggerDeviceIs        TriggerType = "device_is"

	// TriggerImmediate is reported when a campaign declares no triggers at all.
	TriggerImmediate TriggerType = "immediate"
)

// Trigger is a tagged variant; only the fields of its Type are meaningful.
type Trigger struct {
	Type    TriggerType `json:"type"`
	Seconds float64     `json:"seconds,omitempty"` // after_seconds, inactivity, smart_exit_intent dwell
	Percent float64     `json:"percent,omitempty"` // scroll_percent
	Event   string      `json:"event,omitempty"`   // custom_event
	Count   int         `json:"count,omitempty"`   // pageview_count
	Pattern string      `json:"pattern,omitempty"` // url_match
	Device  DeviceClass `json:"device,omitempty"`  // device_is
}
