// Package bridge connects browser pages to server-side page runtimes over a websocket.
// Each connection is one page load: the client reports signals, the server mounts
// popups and mirrors reports back.
package bridge

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/identity"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/metrics"
	"popup-runtime/internal/visit"
	"popup-runtime/pkg/logger"
	"popup-runtime/pkg/redis"
)

// Config tunes the hub
type Config struct {
	APIBase        string
	DebugAllowed   bool
	SessionIdle    time.Duration
	OriginPatterns []string // host patterns accepted in the Origin header, nil allows any
	HelloTimeout   time.Duration
	LoadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c *Config) defaults() {
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = 10 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SessionIdle <= 0 {
		c.SessionIdle = identity.DefaultSessionIdle
	}
}

// Deps are the hub's collaborators. Redis and Tracker may be nil: without Redis the
// frequency store runs without storage and admits everything.
type Deps struct {
	Source   loader.Source
	Identity *identity.Service
	Tracker  visit.Tracker
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// Hub accepts bridge connections and tracks live sessions for shutdown
type Hub struct {
	cfg      Config
	source   loader.Source
	identity *identity.Service
	tracker  visit.Tracker
	redis    *redis.Client
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewHub creates a hub
func NewHub(cfg Config, deps Deps) *Hub {
	cfg.defaults()
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	source := deps.Source
	if source == nil {
		source = loader.SourceFunc(func(context.Context, string) (*domain.DecisionPayload, error) {
			return nil, loader.ErrNoPayload
		})
	}
	ids := deps.Identity
	if ids == nil {
		// tokens from an ephemeral key do not survive a restart
		ids = identity.NewService(uuid.NewString(), cfg.SessionIdle)
	}
	return &Hub{
		cfg:      cfg,
		source:   source,
		identity: ids,
		tracker:  deps.Tracker,
		redis:    deps.Redis,
		metrics:  deps.Metrics,
		log:      log.Named("bridge"),
		sessions: make(map[*Session]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the page session until it ends
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.WithError(err).Warn("Websocket accept failed")
		return
	}
	conn.SetReadLimit(64 << 10)

	s := newSession(h, conn, h.log)
	if !h.register(s) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(s)

	// r.Context() ends with the handler; the session owns its own lifetime
	hello, id, err := s.handshake(s.ctx)
	if err != nil {
		s.log.WithError(err).Debug("Bridge handshake failed")
		s.sendError(err)
		s.close(nil, websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	if err := s.send(MsgIdentity, IdentityMessage{
		VisitorID:  id.VisitorID,
		SessionID:  id.SessionID,
		Token:      id.Token,
		NewVisitor: id.NewVisitor,
		NewSession: id.NewSession,
	}); err != nil {
		s.close(nil, websocket.StatusInternalError, "identity")
		return
	}

	h.metrics.SessionOpened()
	defer h.metrics.SessionClosed()

	done := s.start(hello, id)
	if err := s.serve(); websocket.CloseStatus(err) == -1 {
		s.log.WithError(err).Debug("Bridge session ended")
	}
	s.close(done, websocket.StatusNormalClosure, "")
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every session and waits for them to finish, bounded by ctx
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	live := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		go s.shutdown()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

// OriginPatterns turns CORS origins ("https://shop.example") into the host patterns
// websocket.Accept matches against
func OriginPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
