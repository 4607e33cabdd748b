package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu     sync.Mutex
	writes []string
	fail   bool
	closed bool
}

func (c *stubConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.fail {
		return errors.New("closed")
	}
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *stubConn) SetWriteDeadline(time.Time) error { return nil }

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func helloOf(frame string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(frame), nil }
}

func TestSockets_HelloPrecedesFanout(t *testing.T) {
	s := newSockets(zerolog.Nop(), 0, nil)
	a := &stubConn{}
	require.True(t, s.join(a, helloOf("hello-a")))
	s.fanout([]byte("f1"))

	b := &stubConn{}
	require.True(t, s.join(b, helloOf("hello-b")))
	s.fanout([]byte("f2"))

	require.Equal(t, []string{"hello-a", "f1", "f2"}, a.frames())
	require.Equal(t, []string{"hello-b", "f2"}, b.frames())
}

func TestSockets_FailingConnIsDropped(t *testing.T) {
	var idle atomic.Int32
	s := newSockets(zerolog.Nop(), 10*time.Millisecond, func() { idle.Add(1) })
	good, bad := &stubConn{}, &stubConn{}
	require.True(t, s.join(good, nil))
	require.True(t, s.join(bad, nil))
	bad.mu.Lock()
	bad.fail = true
	bad.mu.Unlock()

	s.fanout([]byte("one"))
	require.Equal(t, 1, s.len())
	require.True(t, bad.isClosed())
	require.Equal(t, []string{"one"}, good.frames())

	// a socket that cannot take its hello frame never joins, and the empty widget goes idle
	s2 := newSockets(zerolog.Nop(), 10*time.Millisecond, func() { idle.Add(1) })
	require.False(t, s2.join(&stubConn{fail: true}, helloOf("hello")))
	require.Zero(t, s2.len())
	require.Eventually(t, func() bool { return idle.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSockets_RejoinCancelsIdle(t *testing.T) {
	var idle atomic.Int32
	s := newSockets(zerolog.Nop(), 30*time.Millisecond, func() { idle.Add(1) })
	c := &stubConn{}
	require.True(t, s.join(c, nil))
	s.leave(c)

	s.mu.Lock()
	stale := s.gen
	s.mu.Unlock()

	c2 := &stubConn{}
	require.True(t, s.join(c2, nil))
	// a timer armed before the rejoin must not evict
	s.expire(stale)
	time.Sleep(60 * time.Millisecond)
	require.Zero(t, idle.Load())

	s.leave(c2)
	require.Eventually(t, func() bool { return idle.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSockets_StaleTimerAfterSecondLeave(t *testing.T) {
	var idle atomic.Int32
	s := newSockets(zerolog.Nop(), time.Hour, func() { idle.Add(1) })
	c := &stubConn{}
	require.True(t, s.join(c, nil))
	s.leave(c)
	s.mu.Lock()
	first := s.gen
	s.mu.Unlock()

	require.True(t, s.join(c, nil))
	s.leave(c)
	s.expire(first)
	require.Zero(t, idle.Load())

	s.mu.Lock()
	current := s.gen
	s.mu.Unlock()
	s.expire(current)
	require.EqualValues(t, 1, idle.Load())
}

func TestSockets_CloseRefusesJoins(t *testing.T) {
	var idle atomic.Int32
	s := newSockets(zerolog.Nop(), time.Millisecond, func() { idle.Add(1) })
	a := &stubConn{}
	require.True(t, s.join(a, nil))
	s.close()
	require.True(t, a.isClosed())
	require.False(t, s.join(&stubConn{}, nil))
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, idle.Load())
}
