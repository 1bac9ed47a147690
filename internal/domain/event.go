package domain

import "time"

// EventType is the kind of an outbound report
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventClose      EventType = "close"
)

// CloseMethod is how a popup was dismissed
type CloseMethod string

const (
	CloseButton  CloseMethod = "button"
	CloseOverlay CloseMethod = "overlay"
)

// Event is the fire-and-forget report sent for every impression, click and close
type Event struct {
	SiteID  string         `json:"siteId"`
	PopupID string         `json:"popupId"`
	Type    EventType      `json:"type"`
	Data    map[string]any `json:"data"`
}

// Keys of Event.Data
const (
	DataDevice      = "device"
	DataURL         = "url"
	DataTriggerType = "triggerType"
	DataCloseMethod = "closeMethod"
	DataVersionID   = "versionId"
	DataLang        = "lang"
	DataBlockID     = "blockId"
	DataTimestamp   = "ts"
)

// EventLogEntry mirrors an Event into the host page's event log (dataLayer)
type EventLogEntry struct {
	Event   string         `json:"event"` // pb_impression, pb_click, pb_close
	PopupID string         `json:"popupId"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// EventRecord is an ingested Event as stored by the server
type EventRecord struct {
	ID         int64
	Event      Event
	RequestID  string
	ReceivedAt time.Time
}
