package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/eventloop"
	"popup-runtime/internal/frequency"
	"popup-runtime/internal/identity"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/page"
	"popup-runtime/internal/reporter"
	"popup-runtime/internal/runtime"
	apperrors "popup-runtime/pkg/errors"
	"popup-runtime/pkg/logger"
)

// Session is one page connected over the bridge. It is the page's Surface: mounts,
// unmounts and event log entries are forwarded to the client.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	rt *runtime.Runtime
}

func newSession(hub *Hub, conn *websocket.Conn, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{hub: hub, conn: conn, log: log, ctx: ctx, cancel: cancel}
}

// Mount sends a rendered popup to the page
func (s *Session) Mount(m page.Mount) error {
	return s.send(MsgMount, m)
}

// Unmount removes the popup container from the page
func (s *Session) Unmount(containerID, popupID string) error {
	return s.send(MsgUnmount, UnmountMessage{ContainerID: containerID, PopupID: popupID})
}

// PushEventLog mirrors a report into the page's dataLayer
func (s *Session) PushEventLog(entry domain.EventLogEntry) {
	if err := s.send(MsgDataLayer, entry); err != nil {
		s.log.WithError(err).Debug("Failed to forward event log entry")
	}
}

func (s *Session) send(t MessageType, v any) error {
	env, err := envelope(t, v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.hub.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, env)
}

// sendError reports err to the client. Errors that are not AppErrors are protocol
// mistakes and go out as validation errors.
func (s *Session) sendError(err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewValidationError(err.Error(), nil)
	}
	if err := s.send(MsgError, ErrorMessage{Type: appErr.Type, Message: appErr.Message}); err != nil {
		s.log.WithError(err).Debug("Failed to send error message")
	}
}

// handshake reads the hello, resumes the visitor and builds the page runtime
func (s *Session) handshake(ctx context.Context) (Hello, identity.Identity, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.hub.cfg.HelloTimeout)
	defer cancel()

	var env Envelope
	if err := wsjson.Read(readCtx, s.conn, &env); err != nil {
		return Hello{}, identity.Identity{}, fmt.Errorf("read hello: %w", err)
	}
	if env.Type != MsgHello {
		return Hello{}, identity.Identity{}, fmt.Errorf("expected %s, got %q", MsgHello, env.Type)
	}

	var hello Hello
	if err := decode(env, &hello); err != nil {
		return Hello{}, identity.Identity{}, fmt.Errorf("decode hello: %w", err)
	}
	if hello.SiteID == "" {
		return Hello{}, identity.Identity{}, errors.New("hello without siteId")
	}

	id, err := s.hub.identity.Resume(hello.Token)
	if err != nil {
		return Hello{}, identity.Identity{}, fmt.Errorf("resume identity: %w", err)
	}
	return hello, id, nil
}

// start wires the runtime of the page and begins loading its payload
func (s *Session) start(hello Hello, id identity.Identity) (done <-chan struct{}) {
	log := s.log.WithFields(map[string]interface{}{
		"site_id":    hello.SiteID,
		"session_id": id.SessionID,
	})
	s.log = log

	var stats domain.VisitStats
	if s.hub.tracker != nil {
		var err error
		stats, err = s.hub.tracker.RecordPageView(s.ctx, id.VisitorID, id.NewSession)
		if err != nil {
			log.WithError(err).Warn("Failed to record page view")
		}
	}

	state := hello.State()
	loop := eventloop.New(eventloop.RealClock{}, log)

	var durable, session frequency.Scope
	if s.hub.redis != nil {
		durable = frequency.NewDurableScope(s.hub.redis, id.VisitorID)
		session = frequency.NewSessionScope(s.hub.redis, id.SessionID, s.hub.cfg.SessionIdle)
	}
	store := frequency.NewStore(durable, session, loop.Clock(), log, frequency.WithLocation(state.Location()))

	opts := runtime.Options{
		SiteID:      hello.SiteID,
		UserContext: hello.UserContext,
		Lang:        hello.LangOverride,
		APIBase:     s.hub.cfg.APIBase,
		Debug:       hello.Debug && s.hub.cfg.DebugAllowed,
	}
	s.rt = runtime.New(opts, runtime.Deps{
		Loop:      loop,
		Page:      page.New(state),
		Surface:   s,
		Loader:    loader.New(s.hub.source, log),
		Frequency: store,
		Emitter: reporter.New(s.hub.cfg.APIBase, log,
			reporter.WithMirror(s),
			reporter.WithMetrics(s.hub.metrics),
			reporter.WithClock(loop.Now),
		),
		Visit:   stats,
		Metrics: s.hub.metrics,
		Logger:  log,
	})

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if err := loop.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Event loop stopped")
		}
	}()

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.hub.cfg.LoadTimeout)
		defer cancel()
		_ = s.rt.Init(ctx) // logged by the runtime; an inert page is not an error
	}()

	return finished
}

// serve reads signals until the client goes away
func (s *Session) serve() error {
	for {
		var env Envelope
		if err := wsjson.Read(s.ctx, s.conn, &env); err != nil {
			return err
		}
		if err := s.dispatch(env); err != nil {
			s.log.WithError(err).WithField("type", string(env.Type)).Debug("Rejected bridge message")
			s.sendError(err)
		}
	}
}

func (s *Session) dispatch(env Envelope) error {
	switch env.Type {
	case MsgScroll:
		var m ScrollSignal
		if err := decode(env, &m); err != nil {
			return fmt.Errorf("decode scroll: %w", err)
		}
		s.rt.Scroll(m.ScrollY, m.ScrollHeight, m.ViewportHeight)
	case MsgPointerLeave:
		var m PointerLeaveSignal
		if err := decode(env, &m); err != nil {
			return fmt.Errorf("decode pointer_leave: %w", err)
		}
		s.rt.PointerLeave(m.ClientY)
	case MsgActivity:
		s.rt.Activity()
	case MsgTrack:
		var m TrackSignal
		if err := decode(env, &m); err != nil {
			return fmt.Errorf("decode track: %w", err)
		}
		s.rt.Track(m.Name)
	case MsgNavigate:
		var m NavigateSignal
		if err := decode(env, &m); err != nil {
			return fmt.Errorf("decode navigate: %w", err)
		}
		s.rt.Navigate(m.URL)
	case MsgResize:
		var m ResizeSignal
		if err := decode(env, &m); err != nil {
			return fmt.Errorf("decode resize: %w", err)
		}
		s.rt.Resize(m.Width, m.Height)
	case MsgClose:
		var m CloseSignal
		if err := decode(env, &m); err != nil {
			return fmt.Errorf("decode close: %w", err)
		}
		if m.Method == "" {
			m.Method = domain.CloseButton
		}
		s.rt.ClosePopup(m.PopupID, m.Method)
	case MsgClick:
		var m ClickSignal
		if err := decode(env, &m); err != nil {
			return fmt.Errorf("decode click: %w", err)
		}
		s.rt.Click(m.PopupID, m.BlockID)
	case MsgInspect:
		snapshot, err := s.rt.Inspect()
		if errors.Is(err, runtime.ErrDebugDisabled) {
			return apperrors.NewForbiddenError(err.Error())
		}
		if err != nil {
			return err
		}
		return s.send(MsgInspectResult, snapshot)
	case MsgHello:
		return errors.New("session already started")
	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
	return nil
}

// close tears the runtime down, waits for its loop and closes the socket
func (s *Session) close(done <-chan struct{}, status websocket.StatusCode, reason string) {
	if s.rt != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.hub.cfg.WriteTimeout)
		if err := s.rt.Close(ctx); err != nil {
			s.log.WithError(err).Debug("Runtime closed with pending reports")
		}
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
		cancel()
	}
	s.cancel()
	_ = s.conn.Close(status, reason)
}

// shutdown is called by the hub; the read loop unblocks and serve returns
func (s *Session) shutdown() {
	_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
}
