package simulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/eventloop"
	"popup-runtime/internal/frequency"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/page"
	"popup-runtime/internal/runtime"
	"popup-runtime/pkg/logger"
)

// Record kinds
const (
	KindMount   = "mount"
	KindUnmount = "unmount"
	KindEvent   = "event"
)

// Record is one observable effect of the runtime
type Record struct {
	Page     int            `json:"page"`
	At       time.Duration  `json:"-"`
	Offset   string         `json:"at"`
	Kind     string         `json:"kind"`
	PopupID  string         `json:"popupId,omitempty"`
	Event    string         `json:"event,omitempty"`
	Lang     string         `json:"lang,omitempty"`
	Position string         `json:"position,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Result is everything a scenario produced
type Result struct {
	Records []Record            `json:"records"`
	Final   *runtime.Inspection `json:"final,omitempty"`
}

// Events returns the event records named name, e.g. "pb_impression"
func (r *Result) Events(name string) []Record {
	var out []Record
	for _, rec := range r.Records {
		if rec.Kind == KindEvent && rec.Event == name {
			out = append(out, rec)
		}
	}
	return out
}

type runner struct {
	sc      *Scenario
	log     *logger.Logger
	clock   *eventloop.ManualClock
	source  loader.Source
	durable *frequency.MemoryScope
	session *frequency.MemoryScope
	visit   domain.VisitStats

	pageNo int
	loop   *eventloop.Loop
	rt     *runtime.Runtime

	mu      sync.Mutex
	records []Record
}

// Run replays the scenario. Every page load of the scenario shares one visitor's
// frequency storage and one browser session.
func Run(ctx context.Context, sc *Scenario, log *logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.NewNop()
	}
	payload, err := sc.Payload()
	if err != nil {
		return nil, err
	}

	r := &runner{
		sc:    sc,
		log:   log.Named("simulate"),
		clock: eventloop.NewManualClock(sc.Start),
		source: loader.SourceFunc(func(context.Context, string) (*domain.DecisionPayload, error) {
			return payload, nil
		}),
		durable: frequency.NewMemoryScope(),
		session: frequency.NewMemoryScope(),
		visit: domain.VisitStats{
			PageViews:   sc.Visit.PageViews,
			Sessions:    sc.Visit.Sessions,
			FirstSeenAt: sc.Start,
		},
	}

	if err := r.open(ctx); err != nil {
		return nil, err
	}
	for i, step := range sc.Steps {
		if err := r.exec(ctx, step); err != nil {
			r.closePage(ctx)
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
	}

	result := &Result{}
	if sc.Debug {
		inspection, err := r.rt.Inspect()
		if err != nil {
			return nil, fmt.Errorf("inspect: %w", err)
		}
		result.Final = &inspection
	}
	r.closePage(ctx)

	result.Records = r.snapshot()
	return result, nil
}

func (r *runner) open(ctx context.Context) error {
	r.pageNo++
	r.visit.PageViews++

	state := r.sc.Page.state()
	r.loop = eventloop.New(r.clock, r.log)
	r.rt = runtime.New(runtime.Options{
		SiteID:      r.sc.SiteID,
		UserContext: r.sc.UserContext,
		Lang:        r.sc.Lang,
		Debug:       r.sc.Debug,
	}, runtime.Deps{
		Loop:      r.loop,
		Page:      page.New(state),
		Surface:   &recorder{runner: r, page: r.pageNo},
		Loader:    loader.New(r.source, r.log),
		Frequency: frequency.NewStore(r.durable, r.session, r.clock, r.log, frequency.WithLocation(state.Location())),
		Visit:     r.visit,
		Logger:    r.log,
	})

	if err := r.rt.Init(ctx); err != nil && !errors.Is(err, loader.ErrNoPayload) {
		return err
	}
	r.loop.RunPending()
	return nil
}

func (r *runner) closePage(ctx context.Context) {
	if r.rt == nil {
		return
	}
	if err := r.rt.Close(ctx); err != nil {
		r.log.WithError(err).Warn("Runtime close reported an error")
	}
	r.loop.RunPending()
	r.rt, r.loop = nil, nil
}

func (r *runner) exec(ctx context.Context, step Step) error {
	switch step.Kind() {
	case "advance":
		r.clock.Advance(step.Advance)
	case "scroll":
		height := step.Scroll.Height
		if height == 0 {
			height = r.sc.Page.ScrollHeight
		}
		r.rt.Scroll(step.Scroll.Y, height, r.sc.Page.ViewportHeight)
	case "pointer_leave":
		r.rt.PointerLeave(*step.PointerLeave)
	case "activity":
		r.rt.Activity()
	case "track":
		r.rt.Track(step.Track)
	case "navigate":
		r.rt.Navigate(step.Navigate)
	case "resize":
		r.rt.Resize(step.Resize.Width, step.Resize.Height)
	case "close":
		method := domain.CloseMethod(step.Close.Method)
		if method == "" {
			method = domain.CloseButton
		}
		r.rt.ClosePopup(step.Close.Popup, method)
	case "click":
		r.rt.Click(step.Click.Popup, step.Click.Block)
	case "reload":
		r.closePage(ctx)
		return r.open(ctx)
	default:
		return fmt.Errorf("unknown step")
	}
	r.loop.RunPending()
	return nil
}

func (r *runner) record(rec Record) {
	rec.At = r.clock.Now().Sub(r.sc.Start)
	rec.Offset = rec.At.String()

	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *runner) snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// recorder is the page surface of one simulated page load
type recorder struct {
	runner *runner
	page   int
}

func (s *recorder) Mount(m page.Mount) error {
	s.runner.record(Record{
		Page:     s.page,
		Kind:     KindMount,
		PopupID:  m.PopupID,
		Lang:     m.Lang,
		Position: m.Layout.Position,
	})
	return nil
}

func (s *recorder) Unmount(_, popupID string) error {
	s.runner.record(Record{Page: s.page, Kind: KindUnmount, PopupID: popupID})
	return nil
}

func (s *recorder) PushEventLog(entry domain.EventLogEntry) {
	s.runner.record(Record{
		Page:    s.page,
		Kind:    KindEvent,
		PopupID: entry.PopupID,
		Event:   entry.Event,
		Data:    entry.Data,
	})
}
