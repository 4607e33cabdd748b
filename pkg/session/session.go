// Package session selects among the backend assistant sessions ("models") available to a widget.
//
// A Session is supplied by an external adapter; the core never inspects its wire format.
// The Manager keeps the current model id valid as the descriptor list changes and makes sure a
// session is initialized at most once even when the list is recomputed repeatedly.
package session

import (
	"context"
	"time"
)

// FragmentType tags the Fragment union returned by SendMessage.
type FragmentType string

const (
	FragmentText    FragmentType = "text"
	FragmentOptions FragmentType = "options"
	FragmentCommand FragmentType = "command"
	FragmentPause   FragmentType = "pause"
)

// Option is a selectable reply as sent by the backend.
type Option struct {
	Text     string `json:"text" yaml:"text"`
	Value    string `json:"value" yaml:"value"`
	OptionID string `json:"option_id,omitempty" yaml:"option-id,omitempty"`
}

// Fragment is one discrete unit of a backend reply. Which fields are meaningful depends on Type.
type Fragment struct {
	Type    FragmentType  `json:"type" yaml:"type"`
	Text    string        `json:"text,omitempty" yaml:"text,omitempty"`
	Options []Option      `json:"options,omitempty" yaml:"options,omitempty"`
	Command string        `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string      `json:"args,omitempty" yaml:"args,omitempty"`
	Pause   time.Duration `json:"pause,omitempty" yaml:"pause,omitempty"`
}

// Usage mirrors the quota counters a backend may attach to a reply.
type Usage struct {
	Used  *int `json:"used,omitempty" yaml:"used,omitempty"`
	Limit *int `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Response is the full reply to one user turn.
type Response struct {
	Fragments []Fragment `json:"fragments"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// Empty reports whether the response carries nothing renderable.
func (r *Response) Empty() bool {
	return r == nil || len(r.Fragments) == 0
}

// SendOptions are forwarded to the adapter alongside the text.
type SendOptions struct {
	OptionID string
}

// Conversation identifies one backend conversation.
type Conversation struct {
	ID        string
	CreatedAt time.Time
}

// Session is the uniform contract every backend adapter implements.
type Session interface {
	Init(ctx context.Context) error
	IsInitialized() bool
	IsInitializing() bool
	SendMessage(ctx context.Context, conversationID string, text string, opts SendOptions) (*Response, error)
	CreateNewConversation(ctx context.Context) (Conversation, error)
}

// InitLimitations describe restrictions reported by a backend during Init.
type InitLimitations struct {
	Reason string
}

// ReasonQuotaBreached locks sending when no conversation is active.
const ReasonQuotaBreached = "quota-breached"

// Limited is optionally implemented by sessions that report init limitations.
type Limited interface {
	InitLimitations() *InitLimitations
}

// LimitationsOf returns the init limitations of s, if it reports any.
func LimitationsOf(s Session) *InitLimitations {
	if l, ok := s.(Limited); ok {
		return l.InitLimitations()
	}
	return nil
}

// Descriptor describes one selectable backend.
type Descriptor struct {
	ModelID           string
	Session           Session
	SupportsHistory   bool
	SupportsStreaming bool
}
