package display

import (
	"context"
	"sync"
	"testing"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/eventloop"
	"popup-runtime/internal/frequency"
	"popup-runtime/internal/i18n"
	"popup-runtime/internal/page"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) ofType(typ domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	clock      *eventloop.ManualClock
	surface    *page.MemorySurface
	emitter    *recordingEmitter
	store      *frequency.Store
	controller *Controller
}

func newFixture() *fixture {
	clock := eventloop.NewManualClock(epoch)
	surface := page.NewMemorySurface()
	emitter := &recordingEmitter{}
	store := frequency.NewStore(frequency.NewMemoryScope(), frequency.NewMemoryScope(), clock, nil)
	return &fixture{
		clock:   clock,
		surface: surface,
		emitter: emitter,
		store:   store,
		controller: NewController(Deps{
			SiteID:    "site-1",
			Surface:   surface,
			Frequency: store,
			Emitter:   emitter,
			Now:       clock.Now,
		}),
	}
}

func campaign(id string) domain.CampaignDecision {
	return domain.CampaignDecision{
		CampaignID:        id,
		CampaignVersionID: id + "-v1",
		Schema: domain.CampaignSchema{
			Blocks: []domain.Block{
				{ID: "h", Type: "heading", Content: map[string]string{"text": "Hello"}},
				{ID: "ok", Type: "button", Content: map[string]string{"label": "Got it"}, Action: "close"},
				{ID: "shop", Type: "button", Content: map[string]string{"label": "Shop"}, Action: "https://shop.test/"},
			},
			Layout: domain.LayoutConfig{Position: domain.PositionCenter, OverlayClose: true},
		},
	}
}

func request(d domain.CampaignDecision, cause domain.TriggerType) Request {
	return Request{
		Decision:    d,
		TriggerType: cause,
		Context:     domain.Context{DeviceClass: domain.DeviceDesktop, URL: "https://shop.test/"},
	}
}

func TestTryShow_MountsReportsAndRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.True(t, f.controller.TryShow(ctx, request(campaign("c1"), domain.TriggerAfterSeconds)))

	mounted := f.surface.Mounted()
	require.Len(t, mounted, 1)
	assert.Equal(t, page.ContainerID, mounted[0].ContainerID)
	assert.Contains(t, mounted[0].HTML, "Hello")

	impressions := f.emitter.ofType(domain.EventImpression)
	require.Len(t, impressions, 1)
	assert.Equal(t, "site-1", impressions[0].SiteID)
	assert.Equal(t, "c1", impressions[0].PopupID)
	assert.Equal(t, "after_seconds", impressions[0].Data[domain.DataTriggerType])
	assert.Equal(t, "desktop", impressions[0].Data[domain.DataDevice])
	assert.Equal(t, "https://shop.test/", impressions[0].Data[domain.DataURL])
	assert.Equal(t, "c1-v1", impressions[0].Data[domain.DataVersionID])

	rec, session, err := f.store.Snapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ShownTotal)
	assert.Equal(t, 1, session)

	holder, visible := f.controller.Visible()
	assert.True(t, visible)
	assert.Equal(t, "c1", holder)
}

func TestTryShow_SecondRequestIsDropped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.True(t, f.controller.TryShow(ctx, request(campaign("c1"), domain.TriggerAfterSeconds)))
	assert.False(t, f.controller.TryShow(ctx, request(campaign("c2"), domain.TriggerScrollPercent)))

	assert.Len(t, f.surface.Mounted(), 1)
	assert.Equal(t, 1, f.surface.MaxConcurrent())
	assert.Len(t, f.emitter.ofType(domain.EventImpression), 1)

	// Dropped requests are not queued: closing c1 does not bring c2 up.
	require.True(t, f.controller.Close(ctx, "c1", domain.CloseButton))
	assert.Empty(t, f.surface.Mounted())
}

func TestClose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.True(t, f.controller.TryShow(ctx, request(campaign("c1"), domain.TriggerExitIntent)))

	f.clock.Advance(30 * time.Second)
	assert.False(t, f.controller.Close(ctx, "other", domain.CloseButton))
	require.True(t, f.controller.Close(ctx, "c1", domain.CloseOverlay))
	assert.False(t, f.controller.Close(ctx, "c1", domain.CloseButton), "already closed")

	closes := f.emitter.ofType(domain.EventClose)
	require.Len(t, closes, 1)
	assert.Equal(t, "overlay", closes[0].Data[domain.DataCloseMethod])
	assert.Equal(t, "exit_intent", closes[0].Data[domain.DataTriggerType])

	_, visible := f.controller.Visible()
	assert.False(t, visible)
	assert.Empty(t, f.surface.Mounted())

	rec, _, err := f.store.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, rec.LastClosedAt)
	assert.True(t, rec.LastClosedAt.Equal(epoch.Add(30*time.Second)))

	// The lock is free again.
	assert.True(t, f.controller.TryShow(ctx, request(campaign("c2"), domain.TriggerImmediate)))
}

func TestClose_OverlayIgnoredWithoutOverlayClose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := campaign("c1")
	d.Schema.Layout.OverlayClose = false

	require.True(t, f.controller.TryShow(ctx, request(d, domain.TriggerImmediate)))
	assert.False(t, f.controller.Close(ctx, "c1", domain.CloseOverlay))
	assert.True(t, f.controller.Close(ctx, "c1", domain.CloseButton))
}

func TestClick(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.True(t, f.controller.TryShow(ctx, request(campaign("c1"), domain.TriggerImmediate)))

	assert.False(t, f.controller.Click(ctx, "c1", "missing"))
	require.True(t, f.controller.Click(ctx, "c1", "shop"))
	_, visible := f.controller.Visible()
	assert.True(t, visible, "a link button keeps the popup open")

	require.True(t, f.controller.Click(ctx, "c1", "ok"))
	_, visible = f.controller.Visible()
	assert.False(t, visible)

	clicks := f.emitter.ofType(domain.EventClick)
	require.Len(t, clicks, 2)
	assert.Equal(t, "shop", clicks[0].Data[domain.DataBlockID])

	closes := f.emitter.ofType(domain.EventClose)
	require.Len(t, closes, 1)
	assert.Equal(t, "button", closes[0].Data[domain.DataCloseMethod])
}

func TestTryShow_ResolvesLanguage(t *testing.T) {
	f := newFixture()
	d := campaign("c1")
	d.Schema.Localization = &domain.LocalizationConfig{
		BaseLang:     "en",
		EnabledLangs: []string{"en", "ru"},
		Translations: map[string]map[string]string{
			"ru": {"h.text": "Привет"},
		},
	}
	req := request(d, domain.TriggerImmediate)
	req.HostLang = "ru-RU"

	require.True(t, f.controller.TryShow(context.Background(), req))

	mounted := f.surface.Mounted()
	require.Len(t, mounted, 1)
	assert.Equal(t, "ru", mounted[0].Lang)
	assert.Contains(t, mounted[0].HTML, "Привет")
	assert.Contains(t, mounted[0].HTML, "Got it", "untranslated fields fall back to the base language")

	insp, ok := f.controller.LastInspection()
	require.True(t, ok)
	assert.Equal(t, "ru", insp.Lang)
	assert.Equal(t, "en", insp.BaseLang)
	assert.Equal(t, i18n.SourceHost, insp.Source)
	assert.True(t, insp.UsedFallback)
	assert.Equal(t, []string{"ok.label", "shop.label"}, insp.FallbackFields)
	assert.Equal(t, domain.TriggerImmediate, insp.TriggerType)

	impressions := f.emitter.ofType(domain.EventImpression)
	require.Len(t, impressions, 1)
	assert.Equal(t, "ru", impressions[0].Data[domain.DataLang])
}

func TestTryShow_MountFailureReleasesLock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.surface.Mount(page.Mount{ContainerID: page.ContainerID, PopupID: "foreign"}))

	assert.False(t, f.controller.TryShow(ctx, request(campaign("c1"), domain.TriggerImmediate)))
	_, visible := f.controller.Visible()
	assert.False(t, visible)
	assert.Empty(t, f.emitter.ofType(domain.EventImpression))
}

func TestReset(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.True(t, f.controller.TryShow(ctx, request(campaign("c1"), domain.TriggerImmediate)))

	f.controller.Reset()
	_, visible := f.controller.Visible()
	assert.False(t, visible)
	_, ok := f.controller.LastInspection()
	assert.False(t, ok)
}

func TestLock(t *testing.T) {
	var l Lock
	assert.True(t, l.TryAcquire("a"))
	assert.False(t, l.TryAcquire("b"))
	assert.False(t, l.Release("b"))
	holder, held := l.Holder()
	assert.True(t, held)
	assert.Equal(t, "a", holder)
	assert.True(t, l.Release("a"))
	assert.True(t, l.TryAcquire("b"))
	l.Reset()
	_, held = l.Holder()
	assert.False(t, held)
}
