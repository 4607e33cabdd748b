package timeline

import "time"

// Origin discriminates the Message sum type.
type Origin string

const (
	OriginUser           Origin = "user"
	OriginAssistant      Origin = "assistant"
	OriginSystem         Origin = "system"
	OriginBanner         Origin = "interface-banner"
	OriginFeedbackPrompt Origin = "feedback-prompt"
)

// Message is implemented by UserMessage, AssistantMessage, SystemMessage, BannerMessage and
// FeedbackPromptMessage. The unexported marker closes the set.
type Message interface {
	MessageID() string
	CreatedAt() time.Time
	Origin() Origin
	isMessage()
}

// Base carries the fields shared by every message.
type Base struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created_at"`
}

func (b Base) MessageID() string    { return b.ID }
func (b Base) CreatedAt() time.Time { return b.Created }
func (Base) isMessage()             {}

// NewBase stamps a fresh id and creation time.
func NewBase() Base {
	return Base{ID: NewID(), Created: time.Now()}
}

type UserMessage struct {
	Base
	Text string `json:"text"`
}

func (UserMessage) Origin() Origin { return OriginUser }

// Option is one selectable quick reply attached to an assistant message.
type Option struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	OptionID string `json:"option_id,omitempty"`
}

// CommandSpec is the assistant-declared command in its wire form. The commands package
// narrows it into a typed command.
type CommandSpec struct {
	Type string   `json:"type"`
	Args []string `json:"args,omitempty"`
}

// Usage holds the quota counters attached to a reply. Either counter may be absent.
type Usage struct {
	Used  *int `json:"used,omitempty"`
	Limit *int `json:"limit,omitempty"`
}

// NewUsage builds a Usage with both counters set.
func NewUsage(used, limit int) *Usage {
	return &Usage{Used: &used, Limit: &limit}
}

type AssistantMessage struct {
	Base
	Text      string       `json:"text,omitempty"`
	Options   []Option     `json:"options,omitempty"`
	Command   *CommandSpec `json:"command,omitempty"`
	IsLoading bool         `json:"is_loading"`
	Usage     *Usage       `json:"usage,omitempty"`
}

func (AssistantMessage) Origin() Origin { return OriginAssistant }

// SystemMessage is a timeline line rendered from a fixed per-kind template.
type SystemMessage struct {
	Base
	Kind Kind     `json:"kind"`
	Args []string `json:"args,omitempty"`
}

func (SystemMessage) Origin() Origin { return OriginSystem }

// BannerMessage has the same shape as SystemMessage but is rendered as a persistent alert.
type BannerMessage struct {
	Base
	Kind Kind     `json:"kind"`
	Args []string `json:"args,omitempty"`
}

func (BannerMessage) Origin() Origin { return OriginBanner }

// FeedbackPromptMessage is the standalone thumbs prompt appended by the thumbs command.
type FeedbackPromptMessage struct {
	Base
	Prompt string `json:"prompt,omitempty"`
}

func (FeedbackPromptMessage) Origin() Origin { return OriginFeedbackPrompt }

// NewPlaceholder returns a loading assistant message.
func NewPlaceholder() AssistantMessage {
	return AssistantMessage{Base: NewBase(), IsLoading: true}
}

// IsPlaceholder reports whether m is an unresolved loading assistant message.
func IsPlaceholder(m Message) bool {
	am, ok := m.(AssistantMessage)
	return ok && am.IsLoading
}
