// Package server hosts widgets over websockets. Each widget lives as long as at least one
// connection is attached to it, plus an idle grace period; its timeline events and host
// actions travel over the event bus to every attached connection.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/convocore/pkg/ask"
	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/eventbus"
	"github.com/go-go-golems/convocore/pkg/feedback"
	"github.com/go-go-golems/convocore/pkg/quota"
	"github.com/go-go-golems/convocore/pkg/widget"
)

// WidgetFactory builds the widget for a new mount. host must be passed through to the widget.
type WidgetFactory func(ctx context.Context, widgetID string, host commands.Host) (*widget.Widget, error)

type Config struct {
	BaseCtx     context.Context
	Bus         *eventbus.Bus
	NewWidget   WidgetFactory
	IdleTimeout time.Duration
	Upgrader    websocket.Upgrader
}

type Server struct {
	baseCtx     context.Context
	bus         *eventbus.Bus
	newWidget   WidgetFactory
	idleTimeout time.Duration
	upgrader    websocket.Upgrader
	logger      zerolog.Logger

	mu      sync.Mutex
	widgets map[string]*mounted
}

// mounted is one live widget with its connections and forwarding loop.
type mounted struct {
	widget  *widget.Widget
	host    *wsHost
	sockets *sockets
	logger  zerolog.Logger

	detach   func()
	cancel   context.CancelFunc
	handlers sync.WaitGroup
	forward  sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	if cfg.Bus == nil {
		return nil, errors.New("server: event bus is nil")
	}
	if cfg.NewWidget == nil {
		return nil, errors.New("server: widget factory is nil")
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = time.Minute
	}
	up := cfg.Upgrader
	if up.CheckOrigin == nil {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		baseCtx:     baseCtx,
		bus:         cfg.Bus,
		newWidget:   cfg.NewWidget,
		idleTimeout: idle,
		upgrader:    up,
		logger:      log.With().Str("component", "serve").Logger(),
		widgets:     map[string]*mounted{},
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Count returns the number of mounted widgets.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.widgets)
}

// Close unmounts every widget.
func (s *Server) Close() {
	s.mu.Lock()
	ms := make([]*mounted, 0, len(s.widgets))
	for id, m := range s.widgets {
		ms = append(ms, m)
		delete(s.widgets, id)
	}
	s.mu.Unlock()
	for _, m := range ms {
		m.shutdown()
	}
}

func bearerToken(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(req.URL.Query().Get("token"))
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	widgetID := strings.TrimSpace(q.Get("widget_id"))
	user := commands.User{
		ID:       strings.TrimSpace(q.Get("user_id")),
		Username: strings.TrimSpace(q.Get("username")),
		OrgID:    strings.TrimSpace(q.Get("org_id")),
	}

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	m, err := s.attach(widgetID, conn, bearerToken(req), user)
	if err != nil {
		s.logger.Error().Err(err).Str("widget_id", widgetID).Msg("mount widget")
		_ = conn.WriteJSON(errorFrame{Type: "error", Error: "failed to mount widget"})
		_ = conn.Close()
		return
	}
	if m == nil {
		return
	}
	m.logger.Info().Int("connections", m.sockets.len()).Msg("websocket attached")

	s.readLoop(m, conn)
	m.sockets.leave(conn)
	m.logger.Info().Int("connections", m.sockets.len()).Msg("websocket detached")
}

// attach joins conn to the widget with id, mounting it when id is empty or unknown. Joining
// happens under the server lock, so an idle eviction cannot unmount the widget in between. A nil
// mounted with a nil error means conn failed while receiving the hello frame.
func (s *Server) attach(id string, conn wsConn, token string, user commands.User) (*mounted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.widgets[id]
	if !ok {
		var err error
		if m, err = s.mountLocked(id); err != nil {
			return nil, err
		}
	}
	m.host.setCredentials(token, user)
	hello := func() ([]byte, error) {
		f, err := newHelloFrame(m.widget)
		if err != nil {
			return nil, err
		}
		return json.Marshal(f)
	}
	if !m.sockets.join(conn, hello) {
		return nil, nil
	}
	return m, nil
}

// mountLocked builds a widget and starts forwarding its topic to its sockets.
func (s *Server) mountLocked(id string) (*mounted, error) {
	host := &wsHost{pub: s.bus.Publisher}
	w, err := s.newWidget(s.baseCtx, id, host)
	if err != nil {
		return nil, err
	}
	id = w.ID()
	host.widgetID = id
	topic := eventbus.Topic(id)

	ctx, cancel := context.WithCancel(s.baseCtx)
	if err := s.bus.EnsureGroupAtTail(ctx, topic); err != nil {
		cancel()
		w.Unmount()
		return nil, err
	}
	msgs, err := s.bus.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		w.Unmount()
		return nil, errors.Wrapf(err, "server: subscribe to %s", topic)
	}

	m := &mounted{
		widget: w,
		host:   host,
		logger: s.logger.With().Str("widget_id", id).Logger(),
		cancel: cancel,
	}
	m.sockets = newSockets(m.logger, s.idleTimeout, func() { s.evict(id) })
	detachTimeline := eventbus.NewTimelinePublisher(s.bus.Publisher, id).Attach(w.Store())
	w.Quota().OnChange(func(messageID string, a quota.Alert) {
		m.publish(quotaFrame{
			Type: "quota", WidgetID: id, MessageID: messageID,
			Level: a.Level, Used: a.Used, Limit: a.Limit, Action: a.Action,
		})
	})
	m.detach = detachTimeline

	m.forward.Add(1)
	go func() {
		defer m.forward.Done()
		eventbus.Forward(ctx, msgs, m.sockets.fanout)
	}()

	s.widgets[id] = m
	m.logger.Info().Msg("widget mounted")
	return m, nil
}

func (s *Server) evict(id string) {
	s.mu.Lock()
	m, ok := s.widgets[id]
	if ok && m.sockets.len() == 0 {
		delete(s.widgets, id)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if ok {
		m.shutdown()
	}
}

// shutdown stops the widget first so pending handlers return, then tears down forwarding.
func (m *mounted) shutdown() {
	m.widget.Unmount()
	m.handlers.Wait()
	m.detach()
	m.cancel()
	m.forward.Wait()
	m.sockets.close()
	m.logger.Info().Msg("widget unmounted")
}

func (m *mounted) publish(v any) {
	if err := eventbus.PublishJSON(m.host.pub, eventbus.Topic(m.widget.ID()), v); err != nil {
		m.logger.Warn().Err(err).Msg("frame not published")
	}
}

func (m *mounted) publishSendState() {
	m.publish(newSendStateFrame(m.widget.ID(), m.widget.SendState()))
}

func (m *mounted) publishError(request string, err error) {
	m.publish(errorFrame{Type: "error", WidgetID: m.widget.ID(), Request: request, Error: err.Error()})
}

func (s *Server) readLoop(m *mounted, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			m.publishError("", errors.Wrap(err, "invalid frame"))
			continue
		}
		m.handle(s.baseCtx, f)
	}
}

// handle applies one client frame. Anything that can wait on the backend runs in its own
// goroutine so the read loop keeps going.
func (m *mounted) handle(ctx context.Context, f ClientFrame) {
	w := m.widget
	switch f.Type {
	case FrameAsk:
		m.async(func() {
			err := w.Ask(ctx, f.Text, ask.Options{HideUserEcho: f.HideUserEcho, OptionID: f.OptionID})
			if err != nil {
				m.publishError(f.Type, err)
			}
			m.publishSendState()
		})
		m.publishSendState()
	case FrameOpen:
		m.async(func() {
			if err := w.Open(ctx); err != nil {
				m.publishError(f.Type, err)
			}
			m.publishSendState()
		})
	case FrameClose:
		w.Close()
	case FrameSelectModel:
		w.SelectModel(f.ModelID)
		m.publishSendState()
	case FrameNewConversation:
		m.async(func() {
			conv, err := w.StartNewConversation(ctx)
			if err != nil {
				m.publishError(f.Type, err)
				return
			}
			m.publish(conversationFrame{Type: "conversation.started", WidgetID: w.ID(), ConversationID: conv.ID})
			m.publishSendState()
		})
	case FrameFeedback:
		m.handleFeedback(ctx, f)
	case FrameThumbs:
		m.async(func() {
			w.Feedback().Thumbs(f.MessageID).Choose(ctx, f.Rating)
		})
	default:
		m.publishError(f.Type, errors.Errorf("unknown frame type %q", f.Type))
	}
}

func (m *mounted) handleFeedback(ctx context.Context, f ClientFrame) {
	if f.MessageID == "" {
		m.publishError(f.Type, errors.New("feedback frame without message_id"))
		return
	}
	machine := m.widget.Feedback().For(f.MessageID)
	switch f.Action {
	case ActionOpenPositive:
		machine.OpenPositive()
	case ActionOpenNegative:
		machine.OpenNegative()
	case ActionCloseDetail:
		machine.CloseDetail()
	case ActionCloseCompletion:
		machine.CloseCompletion()
	case ActionSubmit:
		m.async(func() {
			if err := machine.Submit(ctx, f.QuickResponse, f.FreeText); err != nil {
				m.publishError(f.Type, err)
			}
			m.publishFeedback(machine)
		})
		m.publishFeedback(machine)
		return
	default:
		m.publishError(f.Type, errors.Errorf("unknown feedback action %q", f.Action))
		return
	}
	m.publishFeedback(machine)
}

func (m *mounted) publishFeedback(machine *feedback.Machine) {
	rec := machine.Record()
	m.publish(feedbackFrame{
		Type:           "feedback.state",
		WidgetID:       m.widget.ID(),
		MessageID:      machine.MessageID(),
		State:          rec.State(),
		Rating:         rec.Rating,
		CompletionOpen: rec.CompletionOpen,
	})
}

func (m *mounted) async(fn func()) {
	m.handlers.Add(1)
	go func() {
		defer m.handlers.Done()
		fn()
	}()
}
