package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 10 * time.Second

// wsConn is the part of *websocket.Conn a widget writes frames through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// sockets is the set of connections attached to one mounted widget. Every joining socket gets
// the widget's hello frame before any forwarded frame. When the last socket leaves, onIdle runs
// after the grace period unless a socket joins again.
type sockets struct {
	grace  time.Duration
	onIdle func()
	logger zerolog.Logger

	mu     sync.Mutex
	conns  map[wsConn]struct{}
	closed bool
	// gen invalidates idle timers armed before the latest join or leave.
	gen   uint64
	timer *time.Timer
}

func newSockets(logger zerolog.Logger, grace time.Duration, onIdle func()) *sockets {
	return &sockets{grace: grace, onIdle: onIdle, logger: logger, conns: map[wsConn]struct{}{}}
}

// join attaches conn and writes the frame built by hello to it. hello runs under the fan-out
// lock, so frames forwarded afterwards reach conn after it; frames already forwarded carry a
// version at or below the hello version.
func (s *sockets) join(conn wsConn, hello func() ([]byte, error)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.disarmLocked()
	s.conns[conn] = struct{}{}
	if hello == nil {
		return true
	}
	b, err := hello()
	if err != nil {
		s.logger.Warn().Err(err).Msg("hello frame not built")
		return true
	}
	if err := write(conn, b); err != nil {
		s.dropLocked(conn, err)
		s.armLocked()
		return false
	}
	return true
}

func (s *sockets) leave(conn wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return
	}
	delete(s.conns, conn)
	_ = conn.Close()
	s.armLocked()
}

// fanout writes frame to every attached socket; sockets that fail are dropped.
func (s *sockets) fanout(frame []byte) {
	if len(frame) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.conns)
	for conn := range s.conns {
		if err := write(conn, frame); err != nil {
			s.dropLocked(conn, err)
		}
	}
	if n > 0 && len(s.conns) == 0 {
		s.armLocked()
	}
}

func (s *sockets) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// close detaches every socket; later joins are refused and no idle callback fires.
func (s *sockets) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.disarmLocked()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

func (s *sockets) dropLocked(conn wsConn, err error) {
	s.logger.Warn().Err(err).Msg("websocket write failed, dropping connection")
	delete(s.conns, conn)
	_ = conn.Close()
}

func (s *sockets) disarmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *sockets) armLocked() {
	s.disarmLocked()
	if s.closed || len(s.conns) != 0 || s.grace <= 0 || s.onIdle == nil {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.grace, func() { s.expire(gen) })
}

func (s *sockets) expire(gen uint64) {
	s.mu.Lock()
	fire := gen == s.gen && !s.closed && len(s.conns) == 0
	if fire {
		s.timer = nil
	}
	s.mu.Unlock()
	if fire {
		s.onIdle()
	}
}

func write(conn wsConn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
