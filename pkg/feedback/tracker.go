package feedback

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker owns the feedback machines of one widget, keyed by message id. Records live beside
// the timeline, never inside it.
type Tracker struct {
	sink         Sink
	conversation func() string

	mu       sync.Mutex
	machines map[string]*Machine
	thumbs   map[string]*ThumbsPrompt
}

// NewTracker builds a tracker. conversation reports the active conversation id, or "" when
// there is none.
func NewTracker(sink Sink, conversation func() string) *Tracker {
	return &Tracker{
		sink:         sink,
		conversation: conversation,
		machines:     map[string]*Machine{},
		thumbs:       map[string]*ThumbsPrompt{},
	}
}

// For returns the machine of messageID, creating it on first use.
func (t *Tracker) For(messageID string) *Machine {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.machines[messageID]
	if !ok {
		m = newMachine(messageID, t.conversation, t.sink)
		t.machines[messageID] = m
	}
	return m
}

// Thumbs returns the standalone thumbs prompt of promptID.
func (t *Tracker) Thumbs(promptID string) *ThumbsPrompt {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.thumbs[promptID]
	if !ok {
		p = &ThumbsPrompt{promptID: promptID, tracker: t}
		t.thumbs[promptID] = p
	}
	return p
}

// Reset forgets every record; used when a new conversation starts.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.machines = map[string]*Machine{}
	t.thumbs = map[string]*ThumbsPrompt{}
}

// ThumbsPrompt is a thumbs-up/down pair where choosing one disables both.
type ThumbsPrompt struct {
	promptID string
	tracker  *Tracker

	mu     sync.Mutex
	chosen Rating
}

func (p *ThumbsPrompt) Chosen() Rating {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chosen
}

func (p *ThumbsPrompt) Disabled() bool {
	return p.Chosen() != RatingNone
}

// Choose records r if nothing was chosen yet and forwards it to the sink. It reports whether
// the choice was accepted.
func (p *ThumbsPrompt) Choose(ctx context.Context, r Rating) bool {
	if r == RatingNone {
		return false
	}
	p.mu.Lock()
	if p.chosen != RatingNone {
		p.mu.Unlock()
		return false
	}
	p.chosen = r
	p.mu.Unlock()

	convID := ""
	if p.tracker.conversation != nil {
		convID = p.tracker.conversation()
	}
	if p.tracker.sink != nil && convID != "" {
		err := p.tracker.sink.Submit(ctx, Target{ConversationID: convID, MessageID: p.promptID}, Submission{Rating: r})
		if err != nil {
			log.Warn().Err(err).Str("component", "feedback").Str("message_id", p.promptID).Msg("thumbs submission failed")
		}
	}
	return true
}
