// Package feedback implements per-message feedback: a rating plus an optional quick response
// and free text, submitted once to a feedback sink.
package feedback

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type Rating string

const (
	RatingNone     Rating = ""
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
)

type State string

const (
	StateIdle       State = "idle"
	StateOpen       State = "open"
	StateSubmitting State = "submitting"
	StateDone       State = "done"
)

// Record is the UI-facing feedback state of one assistant message.
type Record struct {
	Rating         Rating
	Sent           bool
	Sending        bool
	DetailOpen     bool
	CompletionOpen bool
}

func (r Record) State() State {
	switch {
	case r.Sent:
		return StateDone
	case r.Sending:
		return StateSubmitting
	case r.DetailOpen:
		return StateOpen
	default:
		return StateIdle
	}
}

// Machine drives the feedback lifecycle of one message. Once sent it is terminal.
type Machine struct {
	messageID    string
	conversation func() string
	sink         Sink

	mu        sync.Mutex
	rec       Record
	listeners []func(Record)
}

func newMachine(messageID string, conversation func() string, sink Sink) *Machine {
	return &Machine{messageID: messageID, conversation: conversation, sink: sink}
}

func (m *Machine) MessageID() string { return m.messageID }

func (m *Machine) Record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// OnChange registers fn to receive every state change.
func (m *Machine) OnChange(fn func(Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Machine) OpenPositive() { m.open(RatingPositive) }
func (m *Machine) OpenNegative() { m.open(RatingNegative) }

func (m *Machine) open(r Rating) {
	m.update(func(rec *Record) bool {
		if rec.State() != StateIdle {
			return false
		}
		rec.Rating = r
		rec.DetailOpen = true
		return true
	})
}

// CloseDetail discards the in-progress sentiment choice.
func (m *Machine) CloseDetail() {
	m.update(func(rec *Record) bool {
		if rec.State() != StateOpen {
			return false
		}
		rec.Rating = RatingNone
		rec.DetailOpen = false
		return true
	})
}

// CloseCompletion dismisses the completion surface. Sent stays set.
func (m *Machine) CloseCompletion() {
	m.update(func(rec *Record) bool {
		if !rec.CompletionOpen {
			return false
		}
		rec.CompletionOpen = false
		return true
	})
}

// Submit sends the chosen rating with the optional quick response and free text. It only acts
// in the open state: it is a no-op before a rating is chosen, while a submission is in flight,
// after a successful one, or when the message or conversation is unknown. A failed submission returns the machine to the open state so it can be retried.
func (m *Machine) Submit(ctx context.Context, quickResponse, freeText string) error {
	convID := ""
	if m.conversation != nil {
		convID = m.conversation()
	}
	if m.messageID == "" || convID == "" || m.sink == nil {
		return nil
	}

	var sub Submission
	started := m.update(func(rec *Record) bool {
		if rec.Sending || rec.Sent || !rec.DetailOpen || rec.Rating == RatingNone {
			return false
		}
		rec.Sending = true
		sub = Submission{Rating: rec.Rating, PredefinedResponse: quickResponse, Freeform: freeText}
		return true
	})
	if !started {
		return nil
	}

	err := m.sink.Submit(ctx, Target{ConversationID: convID, MessageID: m.messageID}, sub)
	if err != nil {
		log.Error().Err(err).Str("component", "feedback").
			Str("conversation_id", convID).Str("message_id", m.messageID).
			Msg("feedback submission failed")
		m.update(func(rec *Record) bool {
			rec.Sending = false
			rec.DetailOpen = true
			return true
		})
		return err
	}
	m.update(func(rec *Record) bool {
		rec.Sending = false
		rec.Sent = true
		rec.DetailOpen = false
		rec.CompletionOpen = true
		return true
	})
	return nil
}

func (m *Machine) update(fn func(rec *Record) bool) bool {
	m.mu.Lock()
	if !fn(&m.rec) {
		m.mu.Unlock()
		return false
	}
	rec := m.rec
	listeners := append([]func(Record){}, m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(rec)
	}
	return true
}
