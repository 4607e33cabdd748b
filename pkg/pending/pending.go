// Package pending holds an outbound message queued by one part of the host for whichever
// widget opens next. Widgets receive the Store explicitly; there is no package-level instance.
package pending

import (
	"slices"
	"sync"
)

// Message is a queued outbound utterance.
type Message struct {
	Text     string
	OptionID string
	// HideUserEcho sends the text without echoing it into the timeline.
	HideUserEcho bool
}

// Store is a single-slot observable store. Setting replaces the previous value.
type Store struct {
	mu        sync.Mutex
	msg       *Message
	nextID    int
	listeners map[int]func(*Message)
}

func NewStore() *Store {
	return &Store{listeners: map[int]func(*Message){}}
}

// Set queues m, replacing any queued message.
func (s *Store) Set(m Message) {
	s.update(&m)
}

// Peek returns the queued message without consuming it.
func (s *Store) Peek() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg == nil {
		return Message{}, false
	}
	return *s.msg, true
}

// Take consumes the queued message. Only one caller gets it.
func (s *Store) Take() (Message, bool) {
	s.mu.Lock()
	m := s.msg
	if m == nil {
		s.mu.Unlock()
		return Message{}, false
	}
	s.msg = nil
	listeners := s.snapshotLocked()
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(nil)
	}
	return *m, true
}

func (s *Store) Clear() {
	s.update(nil)
}

// Subscribe registers fn for every change; nil means the slot was emptied.
func (s *Store) Subscribe(fn func(*Message)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) update(m *Message) {
	s.mu.Lock()
	if m == nil && s.msg == nil {
		s.mu.Unlock()
		return
	}
	s.msg = m
	listeners := s.snapshotLocked()
	s.mu.Unlock()
	for _, fn := range listeners {
		if m == nil {
			fn(nil)
			continue
		}
		cp := *m
		fn(&cp)
	}
}

func (s *Store) snapshotLocked() []func(*Message) {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(*Message), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}
