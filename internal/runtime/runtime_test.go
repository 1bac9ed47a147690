package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/eventloop"
	"popup-runtime/internal/frequency"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/page"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// browser is one visitor's persistent storage, shared by every page they open
type browser struct {
	clock   *eventloop.ManualClock
	durable *frequency.MemoryScope
	session *frequency.MemoryScope
}

func newBrowser() *browser {
	return &browser{
		clock:   eventloop.NewManualClock(epoch),
		durable: frequency.NewMemoryScope(),
		session: frequency.NewMemoryScope(),
	}
}

type tab struct {
	rt      *Runtime
	loop    *eventloop.Loop
	surface *page.MemorySurface
	clock   *eventloop.ManualClock
}

func (b *browser) open(t *testing.T, state page.State, opts Options, popups ...domain.PopupEntry) *tab {
	t.Helper()
	if opts.SiteID == "" {
		opts.SiteID = "site-1"
	}
	payload := &domain.DecisionPayload{SiteID: opts.SiteID, Popups: popups}
	loop := eventloop.New(b.clock, nil)
	surface := page.NewMemorySurface()

	rt := New(opts, Deps{
		Loop:    loop,
		Page:    page.New(state),
		Surface: surface,
		Loader: loader.New(loader.SourceFunc(func(context.Context, string) (*domain.DecisionPayload, error) {
			return payload, nil
		}), nil),
		Frequency: frequency.NewStore(b.durable, b.session, b.clock, nil),
	})
	require.NoError(t, rt.Init(context.Background()))
	loop.RunPending()
	return &tab{rt: rt, loop: loop, surface: surface, clock: b.clock}
}

func (tb *tab) advance(d time.Duration) {
	tb.clock.Advance(d)
	tb.loop.RunPending()
}

func (tb *tab) flush() {
	tb.loop.RunPending()
}

func (tb *tab) events(name string) []domain.EventLogEntry {
	var out []domain.EventLogEntry
	for _, e := range tb.surface.EventLog() {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func popup(id string, schema string) domain.PopupEntry {
	return domain.PopupEntry{ID: id, VersionID: id + "-v1", Status: "active", Rules: json.RawMessage(schema)}
}

func desktopPage() page.State {
	return page.State{URL: "https://shop.test/", ViewportWidth: 1280, ViewportHeight: 800, ScrollHeight: 3000, Lang: "en"}
}

func TestScenario_AfterSecondsImpression(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{},
		popup("c1", `{"triggers":[{"type":"after_seconds","seconds":2}]}`))

	tb.advance(1999 * time.Millisecond)
	assert.Empty(t, tb.events("pb_impression"))

	tb.advance(time.Millisecond)
	impressions := tb.events("pb_impression")
	require.Len(t, impressions, 1)
	assert.Equal(t, "c1", impressions[0].PopupID)
	assert.Equal(t, "after_seconds", impressions[0].Data[domain.DataTriggerType])

	tb.advance(time.Minute)
	assert.Len(t, tb.events("pb_impression"), 1)
}

func TestScenario_ScrollPercentZero(t *testing.T) {
	t.Run("fires on the first scroll evaluation", func(t *testing.T) {
		tb := newBrowser().open(t, desktopPage(), Options{},
			popup("c1", `{"triggers":[{"type":"scroll_percent","percent":0}]}`))

		impressions := tb.events("pb_impression")
		require.Len(t, impressions, 1)
		assert.Equal(t, "scroll_percent", impressions[0].Data[domain.DataTriggerType])
	})

	t.Run("page loaded already scrolled", func(t *testing.T) {
		state := desktopPage()
		state.ScrollY = 1200
		tb := newBrowser().open(t, state, Options{},
			popup("c1", `{"triggers":[{"type":"scroll_percent","percent":0}]}`))

		assert.Len(t, tb.events("pb_impression"), 1)
	})
}

func TestScenario_TwoCampaignRace(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{},
		popup("timer", `{"triggers":[{"type":"after_seconds","seconds":1}]}`),
		popup("scroll", `{"triggers":[{"type":"scroll_percent","percent":0}]}`),
	)

	tb.rt.Scroll(400, 3000, 800)
	tb.flush()
	tb.advance(1500 * time.Millisecond)

	assert.Len(t, tb.surface.Mounted(), 1)
	assert.Equal(t, 1, tb.surface.MaxConcurrent())
	assert.Len(t, tb.events("pb_impression"), 1)
}

func TestInvariant_AtMostOneContainer(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{},
		popup("a", `{"triggers":[{"type":"custom_event","event":"go"}]}`),
		popup("b", `{"triggers":[{"type":"custom_event","event":"go"},{"type":"exit_intent"}]}`),
		popup("c", `{"triggers":[{"type":"after_seconds","seconds":1},{"type":"inactivity","seconds":1}]}`),
		popup("d", `{"triggers":[{"type":"scroll_percent","percent":10}]}`),
		popup("e", `{"triggers":[{"type":"url_match","pattern":"shop.test"}]}`),
	)

	tb.rt.Track("go")
	tb.rt.PointerLeave(0)
	tb.rt.Scroll(2000, 3000, 800)
	tb.advance(5 * time.Second)

	assert.Equal(t, 1, tb.surface.MaxConcurrent())
	require.Len(t, tb.events("pb_impression"), 1)
	assert.Equal(t, "e", tb.events("pb_impression")[0].PopupID, "first runnable in registration order wins")

	// Once the winner closes nothing else comes up: dropped requests are not queued.
	tb.rt.ClosePopup("e", domain.CloseButton)
	tb.rt.Track("go")
	tb.advance(time.Minute)
	assert.Empty(t, tb.surface.Mounted())
	assert.Len(t, tb.events("pb_impression"), 1)
}

func TestCustomEventIdempotence(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{},
		popup("c1", `{"triggers":[{"type":"custom_event","event":"signup_started"}]}`))

	tb.rt.Track("signup_started")
	tb.rt.Track("signup_started")
	tb.flush()

	assert.Len(t, tb.events("pb_impression"), 1)
	assert.Len(t, tb.surface.History(), 1)
}

func TestShowOnceAcrossReloads(t *testing.T) {
	b := newBrowser()
	schema := `{"triggers":[],"frequency":{"showOnce":true}}`

	first := b.open(t, desktopPage(), Options{}, popup("c1", schema))
	require.Len(t, first.events("pb_impression"), 1)
	first.rt.ClosePopup("c1", domain.CloseButton)
	first.flush()
	require.NoError(t, first.rt.Close(context.Background()))

	b.session.Clear()
	b.clock.Advance(7 * 24 * time.Hour)

	second := b.open(t, desktopPage(), Options{Debug: true}, popup("c1", schema))
	assert.Empty(t, second.events("pb_impression"))

	insp, err := second.rt.Inspect()
	require.NoError(t, err)
	require.Len(t, insp.Campaigns, 1)
	assert.Equal(t, OutcomeCapped, insp.Campaigns[0].Outcome)
	assert.Equal(t, string(frequency.ReasonShowOnce), insp.Campaigns[0].Reason)
}

func TestScenario_MaxPer24hDeniedBeforeArming(t *testing.T) {
	b := newBrowser()
	schema := `{"triggers":[{"type":"after_seconds","seconds":1}],"frequency":{"maxPer24h":2}}`

	for i := 0; i < 2; i++ {
		tb := b.open(t, desktopPage(), Options{}, popup("c1", schema))
		tb.advance(time.Second)
		require.Len(t, tb.events("pb_impression"), 1)
		require.NoError(t, tb.rt.Close(context.Background()))
		b.clock.Advance(time.Hour)
	}

	third := b.open(t, desktopPage(), Options{Debug: true}, popup("c1", schema))
	assert.Equal(t, 0, third.rt.engine.Armed())
	assert.Empty(t, third.rt.engine.Handles(), "the trigger engine never saw the campaign")

	third.advance(time.Minute)
	assert.Empty(t, third.events("pb_impression"))

	insp, err := third.rt.Inspect()
	require.NoError(t, err)
	assert.Equal(t, string(frequency.ReasonMaxPer24h), insp.Campaigns[0].Reason)
}

func TestScenario_HostLanguageRegionStripped(t *testing.T) {
	state := desktopPage()
	state.Lang = "ru-RU"
	tb := newBrowser().open(t, state, Options{Debug: true}, popup("c1", `{
		"triggers": [],
		"blocks": [{"id":"h","type":"heading","content":{"text":"Welcome"}}],
		"localization": {
			"baseLang": "en",
			"enabledLangs": ["en", "ru"],
			"translations": {"ru": {"h.text": "Добро пожаловать"}}
		}
	}`))

	mounted := tb.surface.Mounted()
	require.Len(t, mounted, 1)
	assert.Equal(t, "ru", mounted[0].Lang)
	assert.Contains(t, mounted[0].HTML, "Добро пожаловать")

	insp, err := tb.rt.Inspect()
	require.NoError(t, err)
	require.NotNil(t, insp.Resolution)
	assert.Equal(t, "ru", insp.Resolution.Lang)
	assert.Equal(t, "en", insp.Resolution.BaseLang)
	assert.False(t, insp.Resolution.UsedFallback)
	assert.Equal(t, domain.TriggerImmediate, insp.Resolution.TriggerType)
	assert.Equal(t, "c1", insp.Visible)
}

func TestLangOverrideWins(t *testing.T) {
	state := desktopPage()
	state.Lang = "ru"
	tb := newBrowser().open(t, state, Options{Lang: "de", Debug: true}, popup("c1", `{
		"blocks": [{"id":"h","type":"heading","content":{"text":"Welcome"}}],
		"localization": {"baseLang":"en","enabledLangs":["en","ru","de"],"translations":{"de":{}}}
	}`))

	insp, err := tb.rt.Inspect()
	require.NoError(t, err)
	assert.Equal(t, "de", insp.Resolution.Lang)
	assert.True(t, insp.Resolution.UsedFallback)
	assert.Contains(t, tb.surface.Mounted()[0].HTML, "Welcome")
}

func TestTargetingGate(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{
		Debug:       true,
		UserContext: map[string]any{"vipLevel": 2, "balance": 50},
	},
		popup("mobile-only", `{"targetingRules":[{"type":"device_is","value":"mobile"}]}`),
		popup("vip", `{"targetingRules":[{"type":"vip_level_is","value":"2"},{"type":"balance_lt","value":100}],"triggers":[{"type":"custom_event","event":"x"}]}`),
	)

	insp, err := tb.rt.Inspect()
	require.NoError(t, err)
	require.Len(t, insp.Campaigns, 2)
	assert.Equal(t, OutcomeTargeted, insp.Campaigns[0].Outcome)
	assert.Equal(t, "device_is", insp.Campaigns[0].Reason)
	assert.Equal(t, OutcomeArmed, insp.Campaigns[1].Outcome)
	assert.Empty(t, tb.surface.Mounted())

	tb.rt.Track("x")
	tb.flush()
	assert.Len(t, tb.surface.Mounted(), 1)
}

func TestMalformedCampaignIsSkipped(t *testing.T) {
	draft := popup("draft", `{}`)
	draft.Status = "draft"
	tb := newBrowser().open(t, desktopPage(), Options{Debug: true},
		popup("broken", `{"triggers": "soon"}`),
		draft,
		popup("ok", `{"triggers":[{"type":"after_seconds","seconds":1}]}`),
	)

	tb.advance(time.Second)
	impressions := tb.events("pb_impression")
	require.Len(t, impressions, 1)
	assert.Equal(t, "ok", impressions[0].PopupID)

	insp, err := tb.rt.Inspect()
	require.NoError(t, err)
	outcomes := map[string]string{}
	for _, c := range insp.Campaigns {
		outcomes[c.CampaignID] = c.Outcome
	}
	assert.Equal(t, OutcomeSkipped, outcomes["broken"])
	assert.Equal(t, OutcomeSkipped, outcomes["draft"])
	assert.Equal(t, OutcomeShown, outcomes["ok"])
}

func TestUnavailableStorageStillShows(t *testing.T) {
	clock := eventloop.NewManualClock(epoch)
	loop := eventloop.New(clock, nil)
	surface := page.NewMemorySurface()
	payload := &domain.DecisionPayload{Popups: []domain.PopupEntry{popup("c1", `{"frequency":{"showOnce":true}}`)}}

	rt := New(Options{SiteID: "site-1"}, Deps{
		Loop:    loop,
		Page:    page.New(desktopPage()),
		Surface: surface,
		Loader: loader.New(loader.SourceFunc(func(context.Context, string) (*domain.DecisionPayload, error) {
			return payload, nil
		}), nil),
	})
	require.NoError(t, rt.Init(context.Background()))
	loop.RunPending()

	assert.Len(t, surface.Mounted(), 1)
}

func TestInitFailureLeavesRuntimeInert(t *testing.T) {
	clock := eventloop.NewManualClock(epoch)
	loop := eventloop.New(clock, nil)
	surface := page.NewMemorySurface()
	rt := New(Options{SiteID: "site-1"}, Deps{
		Loop:    loop,
		Page:    page.New(desktopPage()),
		Surface: surface,
		Loader: loader.New(loader.SourceFunc(func(context.Context, string) (*domain.DecisionPayload, error) {
			return nil, errors.New("connection refused")
		}), nil),
	})

	err := rt.Init(context.Background())
	assert.Error(t, err)

	assert.NotPanics(t, func() {
		rt.Track("anything")
		rt.Scroll(100, 2000, 800)
		loop.RunPending()
	})
	assert.Empty(t, surface.Mounted())
}

func TestNoPayload(t *testing.T) {
	rt := New(Options{}, Deps{Loop: eventloop.New(eventloop.NewManualClock(epoch), nil)})
	assert.ErrorIs(t, rt.Init(context.Background()), loader.ErrNoPayload)
}

func TestInspectRequiresDebug(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{}, popup("c1", `{}`))
	_, err := tb.rt.Inspect()
	assert.ErrorIs(t, err, ErrDebugDisabled)
}

func TestClickAndCloseReports(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{}, popup("c1", `{
		"blocks":[{"id":"cta","type":"button","content":{"label":"Claim"},"action":"close"}],
		"layout":{"overlayClose":true}
	}`))

	tb.rt.Click("c1", "cta")
	tb.flush()

	clicks := tb.events("pb_click")
	require.Len(t, clicks, 1)
	assert.Equal(t, "cta", clicks[0].Data[domain.DataBlockID])
	closes := tb.events("pb_close")
	require.Len(t, closes, 1)
	assert.Equal(t, "button", closes[0].Data[domain.DataCloseMethod])
	assert.Empty(t, tb.surface.Mounted())
}

func TestCloseShutsDownTriggers(t *testing.T) {
	tb := newBrowser().open(t, desktopPage(), Options{},
		popup("c1", `{"triggers":[{"type":"after_seconds","seconds":5}]}`))

	require.NoError(t, tb.rt.Close(context.Background()))
	tb.flush()
	tb.advance(time.Minute)

	assert.Empty(t, tb.events("pb_impression"))
	assert.Equal(t, 0, tb.clock.Pending())
	assert.ErrorIs(t, tb.rt.Init(context.Background()), ErrClosed)
	assert.NoError(t, tb.rt.Close(context.Background()))
}

func TestVisitStatsFeedStaticTriggers(t *testing.T) {
	clock := eventloop.NewManualClock(epoch)
	loop := eventloop.New(clock, nil)
	surface := page.NewMemorySurface()
	payload := &domain.DecisionPayload{Popups: []domain.PopupEntry{
		popup("third-view", `{"triggers":[{"type":"pageview_count","count":3}]}`),
	}}

	rt := New(Options{SiteID: "site-1"}, Deps{
		Loop:    loop,
		Page:    page.New(desktopPage()),
		Surface: surface,
		Visit:   domain.VisitStats{PageViews: 3, Sessions: 2},
		Loader: loader.New(loader.SourceFunc(func(context.Context, string) (*domain.DecisionPayload, error) {
			return payload, nil
		}), nil),
	})
	require.NoError(t, rt.Init(context.Background()))
	loop.RunPending()

	assert.Len(t, surface.Mounted(), 1)
}
