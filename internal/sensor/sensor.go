// Package sensor reads the ambient facts of a page into a targeting Context.
package sensor

import (
	"strconv"

	"popup-runtime/internal/domain"
)

// Viewport width breakpoints (CSS pixels)
const (
	MobileMaxWidth = 767
	TabletMaxWidth = 1023
)

// DeviceClass maps a viewport width to a device class. Unknown widths (<= 0) are
// treated as desktop, the only class that offers a pointer-exit signal.
func DeviceClass(viewportWidth int) domain.DeviceClass {
	switch {
	case viewportWidth <= 0:
		return domain.DeviceDesktop
	case viewportWidth <= MobileMaxWidth:
		return domain.DeviceMobile
	case viewportWidth <= TabletMaxWidth:
		return domain.DeviceTablet
	default:
		return domain.DeviceDesktop
	}
}

// Snapshot is what a page reports about itself at one instant
type Snapshot struct {
	ViewportWidth int
	URL           string
	Referrer      string
}

// Sense builds a fresh Context. Host-supplied attributes win over tracked visit
// stats for pageViews, sessionsCount and visitorType.
func Sense(snap Snapshot, attrs map[string]any, visit domain.VisitStats) domain.Context {
	ctx := domain.Context{
		DeviceClass:   DeviceClass(snap.ViewportWidth),
		URL:           snap.URL,
		Referrer:      snap.Referrer,
		Attributes:    make(map[string]any, len(attrs)),
		PageViews:     visit.PageViews,
		SessionsCount: visit.Sessions,
		Returning:     visit.Returning(),
	}
	for k, v := range attrs {
		ctx.Attributes[k] = v
	}

	if n, ok := intAttr(attrs, domain.AttrPageViews); ok {
		ctx.PageViews = n
	}
	if n, ok := intAttr(attrs, domain.AttrSessions); ok {
		ctx.SessionsCount = n
	}
	if s, ok := attrs[domain.AttrVisitor].(string); ok {
		switch s {
		case domain.VisitorReturning:
			ctx.Returning = true
		case domain.VisitorNew:
			ctx.Returning = false
		}
	}

	return ctx
}

func intAttr(attrs map[string]any, key string) (int, bool) {
	switch v := attrs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
