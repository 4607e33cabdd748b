package scripted

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/convocore/pkg/session"
)

// Session replays a Script. When the script sets a limit, every turn counts against it per
// conversation and the reply carries the usage.
type Session struct {
	script *Script

	initialized  atomic.Bool
	initializing atomic.Bool

	mu    sync.Mutex
	turns map[string]int
}

var _ session.Session = &Session{}
var _ session.Limited = &Session{}

func New(s *Script) *Session {
	return &Session{script: s, turns: map[string]int{}}
}

// Descriptor wraps the session for a session.Manager.
func (s *Session) Descriptor() session.Descriptor {
	return session.Descriptor{
		ModelID:           s.script.Model,
		Session:           s,
		SupportsHistory:   s.script.SupportsHistory,
		SupportsStreaming: s.script.SupportsStreaming,
	}
}

func (s *Session) Init(ctx context.Context) error {
	if !s.initializing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.initializing.Store(false)
	if err := wait(ctx, s.script.InitDelay); err != nil {
		return errors.Wrap(err, "scripted: init")
	}
	s.initialized.Store(true)
	log.Debug().Str("component", "scripted").Str("model_id", s.script.Model).Msg("session initialized")
	return nil
}

func (s *Session) IsInitialized() bool  { return s.initialized.Load() }
func (s *Session) IsInitializing() bool { return s.initializing.Load() }

// InitLimitations reports the scripted limitations once the session is initialized.
func (s *Session) InitLimitations() *session.InitLimitations {
	if !s.IsInitialized() || s.script.InitLimitations == nil {
		return nil
	}
	return &session.InitLimitations{Reason: s.script.InitLimitations.Reason}
}

func (s *Session) CreateNewConversation(ctx context.Context) (session.Conversation, error) {
	conv := session.Conversation{ID: uuid.NewString(), CreatedAt: time.Now()}
	s.mu.Lock()
	s.turns[conv.ID] = 0
	s.mu.Unlock()
	return conv, nil
}

func (s *Session) SendMessage(ctx context.Context, conversationID string, text string, opts session.SendOptions) (*session.Response, error) {
	if err := wait(ctx, s.script.Latency); err != nil {
		return nil, errors.Wrap(err, "scripted: send")
	}

	s.mu.Lock()
	s.turns[conversationID]++
	used := s.turns[conversationID]
	s.mu.Unlock()

	fragments := s.script.Default
	if t, ok := s.script.lookup(text, opts.OptionID); ok {
		if t.Fail != "" {
			return nil, errors.New(t.Fail)
		}
		fragments = t.Fragments
	}
	resp := &session.Response{Fragments: append([]session.Fragment(nil), fragments...)}
	if s.script.Limit > 0 {
		limit := s.script.Limit
		resp.Usage = &session.Usage{Used: &used, Limit: &limit}
	}
	return resp, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
