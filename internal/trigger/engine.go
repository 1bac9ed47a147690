// Package trigger arms the declared triggers of each eligible campaign and fires the
// campaign the first time any one of them is satisfied.
package trigger

import (
	"regexp"
	"strings"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/eventloop"
	"popup-runtime/internal/page"
	"popup-runtime/internal/sensor"
	"popup-runtime/pkg/logger"
)

// Exit-intent tuning
const (
	DefaultSmartExitDwell = 5 * time.Second
	// TouchExitVelocity is the upward scroll speed, in px/ms, that counts as exit intent
	// on devices without a pointer.
	TouchExitVelocity = 0.5
	// TouchExitMaxScrollY is how close to the top the page must be for the touch heuristic.
	TouchExitMaxScrollY = 150.0
)

// FireFunc receives a campaign the moment it fires. It runs on the loop after every
// listener of the campaign has been torn down.
type FireFunc func(h *Handle, cause domain.TriggerType)

// Engine owns the handles of one page. It must only be used from the page's loop.
type Engine struct {
	loop    *eventloop.Loop
	page    *page.Page
	log     *logger.Logger
	handles []*Handle
}

// NewEngine creates an engine bound to a page and its loop
func NewEngine(loop *eventloop.Loop, pg *page.Page, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{loop: loop, page: pg, log: log}
}

// Register arms every declared trigger of decision. Checks that only depend on the
// state at registration (static conditions, the initial scroll position, an empty
// trigger list) are posted to the loop, so across campaigns registered in one pass
// they run in registration order.
func (e *Engine) Register(decision domain.CampaignDecision, ctx domain.Context, fire FireFunc) *Handle {
	h := &Handle{engine: e, decision: decision, onFire: fire}
	e.handles = append(e.handles, h)
	h.state = Armed

	triggers := decision.Schema.Triggers
	if len(triggers) == 0 {
		h.pending = 1
		e.loop.Post(func() { h.fire(domain.TriggerImmediate) })
		return h
	}

	for _, t := range triggers {
		if e.install(h, t, ctx) {
			h.pending++
			continue
		}
		e.log.WithFields(map[string]interface{}{
			"campaign_id":  decision.CampaignID,
			"trigger_type": string(t.Type),
		}).Debug("Trigger not armed")
	}

	if h.pending == 0 {
		h.Retire()
	}
	return h
}

// Handles returns every handle registered so far
func (e *Engine) Handles() []*Handle {
	return append([]*Handle(nil), e.handles...)
}

// Armed counts the handles still waiting to fire
func (e *Engine) Armed() int {
	n := 0
	for _, h := range e.handles {
		if h.state == Armed {
			n++
		}
	}
	return n
}

// Shutdown retires every handle, releasing all timers and subscriptions
func (e *Engine) Shutdown() {
	for _, h := range e.handles {
		h.Retire()
	}
	e.handles = nil
}

// install wires one trigger and reports whether it was armed
func (e *Engine) install(h *Handle, t domain.Trigger, ctx domain.Context) bool {
	bus := e.page.Bus()

	switch t.Type {
	case domain.TriggerAfterSeconds:
		h.add(e.loop.After(seconds(t.Seconds), func() { h.fire(t.Type) }))

	case domain.TriggerInactivity:
		d := seconds(t.Seconds)
		var cancel func()
		arm := func() { cancel = e.loop.After(d, func() { h.fire(t.Type) }) }
		restart := func(page.Signal) {
			cancel()
			arm()
		}
		arm()
		h.add(func() { cancel() })
		h.add(bus.Subscribe(page.SignalActivity, restart))
		h.add(bus.Subscribe(page.SignalScroll, restart))
		h.add(bus.Subscribe(page.SignalPointerLeave, restart))

	case domain.TriggerScrollPercent:
		check := func() {
			if e.page.State().ScrollPercent() >= t.Percent {
				h.fire(t.Type)
			}
		}
		h.add(bus.Subscribe(page.SignalScroll, func(page.Signal) { check() }))
		e.loop.Post(check)

	case domain.TriggerExitIntent:
		e.armExitDetector(h, t.Type)

	case domain.TriggerSmartExitIntent:
		dwell := seconds(t.Seconds)
		if dwell <= 0 {
			dwell = DefaultSmartExitDwell
		}
		h.add(e.loop.After(dwell, func() {
			if h.state == Armed {
				e.armExitDetector(h, t.Type)
			}
		}))

	case domain.TriggerCustomEvent:
		if t.Event == "" {
			return false
		}
		h.add(bus.Subscribe(page.SignalCustom, func(sig page.Signal) {
			if sig.Name == t.Event {
				h.fire(t.Type)
			}
		}))

	case domain.TriggerPageviewCount:
		e.static(h, t.Type, ctx.PageViews >= t.Count)

	case domain.TriggerURLMatch:
		e.static(h, t.Type, MatchURL(t.Pattern, ctx.URL))

	case domain.TriggerDeviceIs:
		e.static(h, t.Type, ctx.DeviceClass == t.Device)

	default:
		return false
	}
	return true
}

// static conditions are decided once per page load
func (e *Engine) static(h *Handle, typ domain.TriggerType, satisfied bool) {
	e.loop.Post(func() {
		if satisfied {
			h.fire(typ)
			return
		}
		h.settle()
	})
}

// armExitDetector picks the pointer heuristic or, on touch devices, the fast
// upward scroll near the top of the page.
func (e *Engine) armExitDetector(h *Handle, typ domain.TriggerType) {
	bus := e.page.Bus()
	state := e.page.State()

	if !sensor.DeviceClass(state.ViewportWidth).IsTouch() {
		h.add(bus.Subscribe(page.SignalPointerLeave, func(sig page.Signal) {
			if sig.ClientY <= 0 {
				h.fire(typ)
			}
		}))
		return
	}

	lastY, lastAt := state.ScrollY, e.loop.Now()
	h.add(bus.Subscribe(page.SignalScroll, func(sig page.Signal) {
		elapsed := float64(sig.At.Sub(lastAt)) / float64(time.Millisecond)
		if elapsed > 0 {
			velocity := (lastY - sig.ScrollY) / elapsed
			if velocity >= TouchExitVelocity && sig.ScrollY <= TouchExitMaxScrollY {
				h.fire(typ)
				return
			}
		}
		lastY, lastAt = sig.ScrollY, sig.At
	}))
}

// MatchURL treats a pattern containing '*' as a glob over the whole URL and anything
// else as a substring. An empty pattern never matches.
func MatchURL(pattern, url string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return strings.Contains(url, pattern)
	}
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return re.MatchString(url)
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
