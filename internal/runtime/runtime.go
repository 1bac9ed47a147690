// Package runtime is the per-page popup runtime: it loads the decision payload, gates
// each campaign on targeting and frequency, arms the trigger engine and hands the
// first campaign to fire to the display controller.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"popup-runtime/internal/display"
	"popup-runtime/internal/domain"
	"popup-runtime/internal/eventloop"
	"popup-runtime/internal/frequency"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/metrics"
	"popup-runtime/internal/page"
	"popup-runtime/internal/reporter"
	"popup-runtime/internal/sensor"
	"popup-runtime/internal/trigger"
	"popup-runtime/pkg/logger"
)

var (
	// ErrDebugDisabled is returned by Inspect unless the runtime was created in debug mode
	ErrDebugDisabled = errors.New("runtime: inspection requires debug mode")
	// ErrClosed is returned once the runtime has been closed
	ErrClosed = errors.New("runtime: closed")
)

// Options is what the host page passes at initialization
type Options struct {
	SiteID      string         `json:"siteId"`
	UserContext map[string]any `json:"userContext,omitempty"`
	Lang        string         `json:"lang,omitempty"`
	APIBase     string         `json:"apiBase,omitempty"`
	Debug       bool           `json:"debug,omitempty"`
}

// Deps are the collaborators of a Runtime. Only Loop and Page are required; the rest
// default to HTTP-backed or inert implementations built from Options.
type Deps struct {
	Loop      *eventloop.Loop
	Page      *page.Page
	Surface   page.Surface
	Loader    *loader.Loader
	Frequency *frequency.Store
	Emitter   display.Emitter
	Renderer  *display.Renderer
	Visit     domain.VisitStats
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// Runtime hosts the popup logic of one page. Every exported method is safe to call
// from any goroutine; the work itself runs on the page's loop.
type Runtime struct {
	opts    Options
	loop    *eventloop.Loop
	page    *page.Page
	loader  *loader.Loader
	freq    *frequency.Store
	emitter display.Emitter
	display *display.Controller
	engine  *trigger.Engine
	visit   domain.VisitStats
	metrics *metrics.Metrics
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	campaigns []CampaignStatus
	closed    bool
}

// New builds a runtime. Nothing happens until Init.
func New(opts Options, deps Deps) *Runtime {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithField("site_id", opts.SiteID)

	loop := deps.Loop
	if loop == nil {
		loop = eventloop.New(eventloop.RealClock{}, log)
	}
	pg := deps.Page
	if pg == nil {
		pg = page.New(page.State{})
	}
	surface := deps.Surface
	if surface == nil {
		surface = page.NewMemorySurface()
	}

	ld := deps.Loader
	if ld == nil {
		ld = loader.New(loader.NewHTTPSource(opts.APIBase, nil, log), log)
	}
	freq := deps.Frequency
	if freq == nil {
		freq = frequency.NewStore(nil, nil, loop.Clock(), log)
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = reporter.New(opts.APIBase, log,
			reporter.WithMirror(surface),
			reporter.WithMetrics(deps.Metrics),
			reporter.WithClock(loop.Now),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		opts:    opts,
		loop:    loop,
		page:    pg,
		loader:  ld,
		freq:    freq,
		emitter: emitter,
		display: display.NewController(display.Deps{
			SiteID:    opts.SiteID,
			Surface:   surface,
			Frequency: freq,
			Emitter:   emitter,
			Renderer:  deps.Renderer,
			Metrics:   deps.Metrics,
			Logger:    log,
			Now:       loop.Now,
		}),
		engine:  trigger.NewEngine(loop, pg, log),
		visit:   deps.Visit,
		metrics: deps.Metrics,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Loop returns the runtime's event loop
func (r *Runtime) Loop() *eventloop.Loop {
	return r.loop
}

// Init fetches the decision payload on the calling goroutine and posts its
// application to the loop. A missing or unreachable payload leaves the runtime inert
// for this page load; the error is returned for logging only.
func (r *Runtime) Init(ctx context.Context) error {
	if r.isClosed() {
		return ErrClosed
	}

	payload, err := r.loader.Load(ctx, r.opts.SiteID)
	if err != nil {
		if errors.Is(err, loader.ErrNoPayload) {
			r.log.Debug("No decision payload, runtime stays inert")
		} else {
			r.log.WithError(err).Warn("Failed to load decision payload, runtime stays inert")
		}
		return fmt.Errorf("init %s: %w", r.opts.SiteID, err)
	}

	if !r.loop.Post(func() { r.apply(payload) }) {
		return ErrClosed
	}
	return nil
}

// Track raises a named custom event
func (r *Runtime) Track(name string) {
	r.loop.Post(func() { r.page.Track(r.loop.Now(), name) })
}

// Scroll reports a new scroll position
func (r *Runtime) Scroll(scrollY, scrollHeight float64, viewportHeight int) {
	r.loop.Post(func() { r.page.Scrolled(r.loop.Now(), scrollY, scrollHeight, viewportHeight) })
}

// PointerLeave reports the pointer leaving the viewport at clientY
func (r *Runtime) PointerLeave(clientY float64) {
	r.loop.Post(func() { r.page.PointerLeft(r.loop.Now(), clientY) })
}

// Activity reports pointer or keyboard activity
func (r *Runtime) Activity() {
	r.loop.Post(func() { r.page.Active(r.loop.Now()) })
}

// Navigate reports an in-page URL change
func (r *Runtime) Navigate(url string) {
	r.loop.Post(func() { r.page.Navigated(r.loop.Now(), url) })
}

// Resize reports a new viewport size
func (r *Runtime) Resize(width, height int) {
	r.loop.Post(func() { r.page.Resized(r.loop.Now(), width, height) })
}

// ClosePopup dismisses the visible popup through a close affordance
func (r *Runtime) ClosePopup(popupID string, method domain.CloseMethod) {
	r.loop.Post(func() { r.display.Close(r.ctx, popupID, method) })
}

// Click reports a click on a popup block
func (r *Runtime) Click(popupID, blockID string) {
	r.loop.Post(func() { r.display.Click(r.ctx, popupID, blockID) })
}

// Close retires every campaign, stops the loop and waits for in-flight reports.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.loop.Post(func() {
		r.engine.Shutdown()
		r.loop.Close()
	})
	r.cancel()

	if f, ok := r.emitter.(interface{ Flush(context.Context) error }); ok {
		return f.Flush(ctx)
	}
	return nil
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// sense rebuilds the visitor context from the current page state
func (r *Runtime) sense() domain.Context {
	st := r.page.State()
	return sensor.Sense(sensor.Snapshot{
		ViewportWidth: st.ViewportWidth,
		URL:           st.URL,
		Referrer:      st.Referrer,
	}, r.opts.UserContext, r.visit)
}
