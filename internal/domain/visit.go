package domain

import "time"

// VisitStats are the durable per-visitor counters maintained by the visit tracker
type VisitStats struct {
	PageViews   int       `json:"pageViews"`
	Sessions    int       `json:"sessions"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
}

// Returning reports whether the visitor has had more than one session
func (v VisitStats) Returning() bool {
	return v.Sessions > 1
}

// RateLimitInfo describes one client's position in the current ingest window
type RateLimitInfo struct {
	ClientHash   string        `json:"client_hash"`
	RequestCount int64         `json:"request_count"`
	WindowStart  time.Time     `json:"window_start"`
	TTL          time.Duration `json:"ttl"`
	IsAllowed    bool          `json:"is_allowed"`
}
