// Package page models what the runtime knows about one browser page: its last reported
// ambient state, the signals it raises, and the surface popups are mounted on.
package page

import (
	"time"
	_ "time/tzdata"
)

// State is the page's ambient facts as last reported by the host
type State struct {
	URL            string
	Referrer       string
	ViewportWidth  int
	ViewportHeight int
	ScrollY        float64
	ScrollHeight   float64
	Lang           string
	Timezone       string
}

// ScrollPercent is scrollY / (scrollHeight - innerHeight) * 100, clamped to [0, 100].
// A page that cannot scroll reports 0.
func (s State) ScrollPercent() float64 {
	scrollable := s.ScrollHeight - float64(s.ViewportHeight)
	if scrollable <= 0 {
		return 0
	}
	pct := s.ScrollY / scrollable * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// Location returns the page's timezone, or UTC when it is unknown
func (s State) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Page couples the ambient state with the signal bus. It is confined to the page's
// event loop: every method must be called from a loop task.
type Page struct {
	state State
	bus   *Bus
}

// New creates a page with an initial state
func New(initial State) *Page {
	return &Page{state: initial, bus: NewBus()}
}

// State returns a copy of the current state
func (p *Page) State() State {
	return p.state
}

// Bus returns the page's signal bus
func (p *Page) Bus() *Bus {
	return p.bus
}

// Scrolled records a new scroll position and publishes a scroll signal
func (p *Page) Scrolled(at time.Time, scrollY, scrollHeight float64, viewportHeight int) {
	p.state.ScrollY = scrollY
	if scrollHeight > 0 {
		p.state.ScrollHeight = scrollHeight
	}
	if viewportHeight > 0 {
		p.state.ViewportHeight = viewportHeight
	}
	p.bus.Publish(Signal{Kind: SignalScroll, At: at, ScrollY: scrollY})
}

// PointerLeft publishes a pointer-exit signal. clientY <= 0 means the pointer left
// through the top edge of the viewport.
func (p *Page) PointerLeft(at time.Time, clientY float64) {
	p.bus.Publish(Signal{Kind: SignalPointerLeave, At: at, ClientY: clientY})
}

// Active publishes pointer or keyboard activity
func (p *Page) Active(at time.Time) {
	p.bus.Publish(Signal{Kind: SignalActivity, At: at})
}

// Track raises a named custom event
func (p *Page) Track(at time.Time, name string) {
	p.bus.Publish(Signal{Kind: SignalCustom, At: at, Name: name})
}

// Navigated records an in-page URL change (history navigation)
func (p *Page) Navigated(at time.Time, url string) {
	p.state.URL = url
	p.bus.Publish(Signal{Kind: SignalNavigate, At: at, Name: url})
}

// Resized records a new viewport size
func (p *Page) Resized(at time.Time, width, height int) {
	if width > 0 {
		p.state.ViewportWidth = width
	}
	if height > 0 {
		p.state.ViewportHeight = height
	}
	p.bus.Publish(Signal{Kind: SignalResize, At: at})
}
