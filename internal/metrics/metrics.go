// Package metrics holds the prometheus collectors of the popup runtime and server.
// Every method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "popup"

// Metrics bundles the runtime and server collectors
type Metrics struct {
	Displays          *prometheus.CounterVec
	DroppedDisplays   prometheus.Counter
	FrequencyDenials  *prometheus.CounterVec
	TargetingDenials  *prometheus.CounterVec
	Events            *prometheus.CounterVec
	ReportFailures    *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	BootCache         *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	IngestedEvents    *prometheus.CounterVec
	RejectedIngestion prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Displays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "displays_total",
			Help:      "Popups mounted, by the trigger type that fired them.",
		}, []string{"trigger_type"}),
		DroppedDisplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_displays_total",
			Help:      "Display requests dropped because another popup held the page lock.",
		}),
		FrequencyDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frequency_denials_total",
			Help:      "Campaigns denied by a frequency cap before arming.",
		}, []string{"reason"}),
		TargetingDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targeting_denials_total",
			Help:      "Campaigns denied by targeting, by the first failing rule.",
		}, []string{"rule"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Impression, click and close reports emitted by page runtimes.",
		}, []string{"type"}),
		ReportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_failures_total",
			Help:      "Event reports that could not be delivered.",
		}, []string{"type"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_sessions",
			Help:      "Open page bridge sessions.",
		}),
		BootCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boot_cache_total",
			Help:      "Boot payload cache lookups by result.",
		}, []string{"result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
		IngestedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_events_total",
			Help:      "Event reports accepted by the ingest endpoint.",
		}, []string{"type"}),
		RejectedIngestion: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_events_total",
			Help:      "Event reports rejected by validation.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Displays, m.DroppedDisplays, m.FrequencyDenials, m.TargetingDenials,
			m.Events, m.ReportFailures, m.ActiveSessions, m.BootCache,
			m.RequestDuration, m.IngestedEvents, m.RejectedIngestion,
		)
	}
	return m
}

func (m *Metrics) Displayed(triggerType string) {
	if m == nil {
		return
	}
	m.Displays.WithLabelValues(triggerType).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.DroppedDisplays.Inc()
}

func (m *Metrics) FrequencyDenied(reason string) {
	if m == nil {
		return
	}
	m.FrequencyDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) TargetingDenied(rule string) {
	if m == nil {
		return
	}
	m.TargetingDenials.WithLabelValues(rule).Inc()
}

func (m *Metrics) Emitted(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ReportFailed(eventType string) {
	if m == nil {
		return
	}
	m.ReportFailures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// BootCacheResult records hit, miss or error
func (m *Metrics) BootCacheResult(result string) {
	if m == nil {
		return
	}
	m.BootCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, status).Observe(seconds)
}

func (m *Metrics) Ingested(eventType string) {
	if m == nil {
		return
	}
	m.IngestedEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.RejectedIngestion.Inc()
}
