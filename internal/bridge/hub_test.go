package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/identity"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/metrics"
	"popup-runtime/internal/page"
	"popup-runtime/internal/runtime"
	"popup-runtime/internal/visit"
	apperrors "popup-runtime/pkg/errors"
	"popup-runtime/pkg/redis"
)

const showOnceRules = `{
	"triggers": [],
	"frequency": {"showOnce": true},
	"blocks": [{"id": "h", "type": "heading", "content": {"text": "Hello"}}],
	"layout": {"position": "center", "overlayClose": true}
}`

type fixture struct {
	hub     *Hub
	srv     *httptest.Server
	mr      *miniredis.Miniredis
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, popups ...domain.PopupEntry) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	source := loader.SourceFunc(func(_ context.Context, siteID string) (*domain.DecisionPayload, error) {
		if siteID != "site-1" {
			return nil, loader.ErrNoPayload
		}
		return &domain.DecisionPayload{SiteID: siteID, Popups: popups}, nil
	})

	hub := NewHub(Config{DebugAllowed: true}, Deps{
		Source:   source,
		Identity: identity.NewService("test-secret", time.Hour),
		Tracker:  visit.NewRedisTracker(client, nil),
		Redis:    client,
		Metrics:  m,
	})
	srv := httptest.NewServer(hub)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
		client.Close()
		mr.Close()
	})
	return &fixture{hub: hub, srv: srv, mr: mr, metrics: m}
}

type pageClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *fixture) dial(t *testing.T) *pageClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &pageClient{t: t, conn: conn}
}

func (c *pageClient) send(typ MessageType, v any) {
	c.t.Helper()
	env, err := envelope(typ, v)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.conn, env))
}

func (c *pageClient) next() Envelope {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var env Envelope
	require.NoError(c.t, wsjson.Read(ctx, c.conn, &env))
	return env
}

func (c *pageClient) expect(typ MessageType, v any) {
	c.t.Helper()
	env := c.next()
	require.Equal(c.t, typ, env.Type, "payload: %s", string(env.Data))
	if v != nil {
		require.NoError(c.t, json.Unmarshal(env.Data, v))
	}
}

func (c *pageClient) hello(token string) IdentityMessage {
	c.t.Helper()
	c.send(MsgHello, Hello{
		SiteID:         "site-1",
		Token:          token,
		URL:            "https://shop.example/",
		Lang:           "en-US",
		ViewportWidth:  1280,
		ViewportHeight: 800,
		Debug:          true,
	})
	var id IdentityMessage
	c.expect(MsgIdentity, &id)
	return id
}

// inspect polls until the payload has been applied
func (c *pageClient) inspect() runtime.Inspection {
	return c.inspectUntil(func(snap runtime.Inspection) bool { return len(snap.Campaigns) > 0 })
}

func (c *pageClient) inspectUntil(done func(runtime.Inspection) bool) runtime.Inspection {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.send(MsgInspect, nil)
		var snap runtime.Inspection
		c.expect(MsgInspectResult, &snap)
		if done(snap) || time.Now().After(deadline) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_MountCloseAndShowOnceAcrossReloads(t *testing.T) {
	f := newFixture(t, domain.PopupEntry{ID: "p1", VersionID: "1", Status: "active", Rules: json.RawMessage(showOnceRules)})

	first := f.dial(t)
	id := first.hello("")
	assert.True(t, id.NewVisitor)
	assert.NotEmpty(t, id.Token)

	var mount page.Mount
	first.expect(MsgMount, &mount)
	assert.Equal(t, page.ContainerID, mount.ContainerID)
	assert.Equal(t, "p1", mount.PopupID)
	assert.Contains(t, mount.HTML, "Hello")

	var impression domain.EventLogEntry
	first.expect(MsgDataLayer, &impression)
	assert.Equal(t, "pb_impression", impression.Event)
	assert.Equal(t, "immediate", impression.Data[domain.DataTriggerType])

	first.send(MsgClose, CloseSignal{PopupID: "p1", Method: domain.CloseOverlay})
	var closed domain.EventLogEntry
	first.expect(MsgDataLayer, &closed)
	assert.Equal(t, "pb_close", closed.Event)
	assert.Equal(t, "overlay", closed.Data[domain.DataCloseMethod])

	var unmount UnmountMessage
	first.expect(MsgUnmount, &unmount)
	assert.Equal(t, "p1", unmount.PopupID)
	require.NoError(t, first.conn.Close(websocket.StatusNormalClosure, "reload"))

	second := f.dial(t)
	again := second.hello(id.Token)
	assert.Equal(t, id.VisitorID, again.VisitorID)
	assert.Equal(t, id.SessionID, again.SessionID)
	assert.False(t, again.NewVisitor)

	snap := second.inspect()
	require.Len(t, snap.Campaigns, 1)
	assert.Equal(t, runtime.OutcomeCapped, snap.Campaigns[0].Outcome)
	assert.Equal(t, "show_once", snap.Campaigns[0].Reason)
	assert.Empty(t, snap.Visible)

	stats := f.mr.HGet("prod:visit:"+id.VisitorID, "page_views")
	assert.Equal(t, "2", stats)
}

func TestHub_TrackFiresCustomEvent(t *testing.T) {
	rules := `{"triggers":[{"type":"custom_event","event":"added_to_cart"}],"blocks":[{"id":"t","type":"text","content":{"text":"Free shipping"}}]}`
	f := newFixture(t, domain.PopupEntry{ID: "cart", Status: "active", Rules: json.RawMessage(rules)})

	c := f.dial(t)
	c.hello("")
	snap := c.inspect()
	require.Len(t, snap.Campaigns, 1)
	assert.Equal(t, runtime.OutcomeArmed, snap.Campaigns[0].Outcome)

	c.send(MsgTrack, TrackSignal{Name: "added_to_cart"})
	c.send(MsgTrack, TrackSignal{Name: "added_to_cart"})

	var mount page.Mount
	c.expect(MsgMount, &mount)
	assert.Equal(t, "cart", mount.PopupID)

	var impression domain.EventLogEntry
	c.expect(MsgDataLayer, &impression)
	assert.Equal(t, "custom_event", impression.Data[domain.DataTriggerType])

	snap = c.inspectUntil(func(s runtime.Inspection) bool {
		return len(s.Campaigns) == 1 && s.Campaigns[0].Outcome == runtime.OutcomeShown
	})
	assert.Equal(t, "cart", snap.Visible)
	assert.Equal(t, runtime.OutcomeShown, snap.Campaigns[0].Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Displays.WithLabelValues("custom_event")))
}

func TestHub_RejectsBadMessages(t *testing.T) {
	f := newFixture(t)

	t.Run("first message must be hello", func(t *testing.T) {
		c := f.dial(t)
		c.send(MsgScroll, ScrollSignal{ScrollY: 10})
		var msg ErrorMessage
		c.expect(MsgError, &msg)
		assert.Contains(t, msg.Message, "expected hello")
	})

	t.Run("hello without site", func(t *testing.T) {
		c := f.dial(t)
		c.send(MsgHello, Hello{})
		var msg ErrorMessage
		c.expect(MsgError, &msg)
		assert.Contains(t, msg.Message, "siteId")
	})

	t.Run("unknown type keeps the session open", func(t *testing.T) {
		c := f.dial(t)
		c.hello("")
		c.send("teleport", nil)
		var msg ErrorMessage
		c.expect(MsgError, &msg)
		assert.Equal(t, apperrors.ErrorTypeValidation, msg.Type)
		assert.Contains(t, msg.Message, "teleport")

		c.send(MsgInspect, nil)
		c.expect(MsgInspectResult, nil)
	})
}

func TestHub_InspectRequiresDebugAllowed(t *testing.T) {
	f := newFixture(t)
	f.hub.cfg.DebugAllowed = false

	c := f.dial(t)
	c.hello("")
	c.send(MsgInspect, nil)
	var msg ErrorMessage
	c.expect(MsgError, &msg)
	assert.Equal(t, apperrors.ErrorTypeForbidden, msg.Type)
	assert.Contains(t, msg.Message, "debug")
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.hello("")

	require.Eventually(t, func() bool {
		return f.hub.Count() == 1 && testutil.ToFloat64(f.metrics.ActiveSessions) == 1
	}, time.Second, 10*time.Millisecond)

	readCtx, readCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer readCancel()
	readErr := make(chan error, 1)
	go func() {
		_, _, err := c.conn.Read(readCtx)
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.hub.Shutdown(ctx))
	assert.Equal(t, 0, f.hub.Count())
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-readErr))
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"shop.example", "localhost:5173"}, OriginPatterns([]string{"https://shop.example", "http://localhost:5173"}))
	assert.Nil(t, OriginPatterns([]string{"https://a.example", "*"}))
	assert.Equal(t, []string{"*.example.com"}, OriginPatterns([]string{"*.example.com"}))
}
