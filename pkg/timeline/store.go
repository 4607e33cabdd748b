package timeline

import (
	"sync"

	"github.com/pkg/errors"
)

// Op names the kind of committed mutation.
type Op string

const (
	OpAppend  Op = "append"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
	OpReset   Op = "reset"
)

// Change describes one committed mutation. Snapshot is the full post-change sequence.
type Change struct {
	Op       Op
	Version  uint64
	Message  Message
	Previous Message
	Snapshot []Message
}

// Observer receives committed changes, in mutation order. Observers must not mutate the store.
type Observer func(Change)

// Store is a copy-on-write, id-addressable message sequence.
type Store struct {
	// notifyMu serializes mutate+notify so observers see changes in commit order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	msgs      []Message
	version   uint64
	observers map[uint64]Observer
	nextObs   uint64
}

func NewStore() *Store {
	return &Store{observers: map[uint64]Observer{}}
}

// All returns the current snapshot. The returned slice is never mutated by the store.
func (s *Store) All() []Message {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs
}

func (s *Store) Len() int {
	return len(s.All())
}

func (s *Store) Version() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Find returns the message with the given id.
func (s *Store) Find(id string) (Message, bool) {
	for _, m := range s.All() {
		if m.MessageID() == id {
			return m, true
		}
	}
	return nil, false
}

// Subscribe registers fn and returns its unsubscribe function.
func (s *Store) Subscribe(fn Observer) func() {
	if s == nil || fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) Append(msg Message) error {
	if s == nil {
		return errors.New("timeline store: nil store")
	}
	if msg == nil {
		return errors.New("timeline store: message is nil")
	}
	if msg.MessageID() == "" {
		return errors.New("timeline store: message id is empty")
	}
	s.commit(func(cur []Message) ([]Message, Change, bool) {
		next := make([]Message, len(cur), len(cur)+1)
		copy(next, cur)
		next = append(next, msg)
		return next, Change{Op: OpAppend, Message: msg}, true
	})
	return nil
}

// ReplaceByID swaps the message with the given id for msg, in place. A missing id is a no-op
// and reports false.
func (s *Store) ReplaceByID(id string, msg Message) bool {
	if s == nil || msg == nil {
		return false
	}
	return s.commit(func(cur []Message) ([]Message, Change, bool) {
		idx := indexOf(cur, id)
		if idx < 0 {
			return cur, Change{}, false
		}
		next := make([]Message, len(cur))
		copy(next, cur)
		prev := next[idx]
		next[idx] = msg
		return next, Change{Op: OpReplace, Message: msg, Previous: prev}, true
	})
}

// RemoveByID drops the message with the given id. A missing id is a no-op and reports false.
func (s *Store) RemoveByID(id string) bool {
	if s == nil {
		return false
	}
	return s.commit(func(cur []Message) ([]Message, Change, bool) {
		idx := indexOf(cur, id)
		if idx < 0 {
			return cur, Change{}, false
		}
		next := make([]Message, 0, len(cur)-1)
		next = append(next, cur[:idx]...)
		next = append(next, cur[idx+1:]...)
		return next, Change{Op: OpRemove, Previous: cur[idx]}, true
	})
}

// Reset starts a fresh, empty sequence.
func (s *Store) Reset() {
	if s == nil {
		return
	}
	s.commit(func(cur []Message) ([]Message, Change, bool) {
		return nil, Change{Op: OpReset}, true
	})
}

func (s *Store) commit(mutate func(cur []Message) ([]Message, Change, bool)) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next, ch, ok := mutate(s.msgs)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.msgs = next
	s.version++
	ch.Version = s.version
	ch.Snapshot = next
	observers := make([]Observer, 0, len(s.observers))
	for i := uint64(0); i < s.nextObs; i++ {
		if fn, ok := s.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(ch)
	}
	return true
}

func indexOf(msgs []Message, id string) int {
	for i, m := range msgs {
		if m.MessageID() == id {
			return i
		}
	}
	return -1
}
