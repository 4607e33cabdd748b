package server

import (
	"github.com/go-go-golems/convocore/pkg/feedback"
	"github.com/go-go-golems/convocore/pkg/quota"
	"github.com/go-go-golems/convocore/pkg/timeline"
	"github.com/go-go-golems/convocore/pkg/widget"
)

// Client frame types.
const (
	FrameAsk             = "ask"
	FrameOpen            = "open"
	FrameClose           = "close"
	FrameSelectModel     = "select-model"
	FrameFeedback        = "feedback"
	FrameThumbs          = "thumbs"
	FrameNewConversation = "new-conversation"
)

// Feedback actions carried by a feedback frame.
const (
	ActionOpenPositive    = "open-positive"
	ActionOpenNegative    = "open-negative"
	ActionSubmit          = "submit"
	ActionCloseDetail     = "close-detail"
	ActionCloseCompletion = "close-completion"
)

// ClientFrame is one JSON message read from the websocket.
type ClientFrame struct {
	Type string `json:"type"`

	Text         string `json:"text,omitempty"`
	OptionID     string `json:"option_id,omitempty"`
	HideUserEcho bool   `json:"hide_user_echo,omitempty"`

	ModelID string `json:"model_id,omitempty"`

	MessageID     string          `json:"message_id,omitempty"`
	Action        string          `json:"action,omitempty"`
	Rating        feedback.Rating `json:"rating,omitempty"`
	QuickResponse string          `json:"quick_response,omitempty"`
	FreeText      string          `json:"free_text,omitempty"`
}

type helloFrame struct {
	Type      string              `json:"type"`
	WidgetID  string              `json:"widget_id"`
	Version   uint64              `json:"version"`
	Messages  []timeline.Envelope `json:"messages"`
	SendState sendStateFrame      `json:"send_state"`
	ModelID   string              `json:"model_id,omitempty"`
}

type sendStateFrame struct {
	Type     string `json:"type"`
	WidgetID string `json:"widget_id"`
	Disabled bool   `json:"disabled"`
	Reason   string `json:"reason,omitempty"`
}

type quotaFrame struct {
	Type      string       `json:"type"`
	WidgetID  string       `json:"widget_id"`
	MessageID string       `json:"message_id,omitempty"`
	Level     quota.Level  `json:"level"`
	Used      int          `json:"used,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Action    quota.Action `json:"action,omitempty"`
}

type feedbackFrame struct {
	Type           string          `json:"type"`
	WidgetID       string          `json:"widget_id"`
	MessageID      string          `json:"message_id"`
	State          feedback.State  `json:"state"`
	Rating         feedback.Rating `json:"rating,omitempty"`
	CompletionOpen bool            `json:"completion_open"`
}

type conversationFrame struct {
	Type           string `json:"type"`
	WidgetID       string `json:"widget_id"`
	ConversationID string `json:"conversation_id"`
}

type errorFrame struct {
	Type     string `json:"type"`
	WidgetID string `json:"widget_id,omitempty"`
	Request  string `json:"request,omitempty"`
	Error    string `json:"error"`
}

// hostFrame asks the page to perform a host action.
type hostFrame struct {
	Type     string `json:"type"`
	WidgetID string `json:"widget_id"`
	URL      string `json:"url,omitempty"`
	NoOpener bool   `json:"no_opener,omitempty"`
	Tour     string `json:"tour,omitempty"`
	Open     *bool  `json:"open,omitempty"`
}

func newSendStateFrame(widgetID string, s widget.SendState) sendStateFrame {
	return sendStateFrame{Type: "send-state", WidgetID: widgetID, Disabled: s.Disabled, Reason: s.Reason}
}

func newHelloFrame(w *widget.Widget) (helloFrame, error) {
	msgs := w.Store().All()
	envs := make([]timeline.Envelope, 0, len(msgs))
	for _, m := range msgs {
		env, err := timeline.Encode(m)
		if err != nil {
			return helloFrame{}, err
		}
		envs = append(envs, env)
	}
	return helloFrame{
		Type:      "hello",
		WidgetID:  w.ID(),
		Version:   w.Store().Version(),
		Messages:  envs,
		SendState: newSendStateFrame(w.ID(), w.SendState()),
		ModelID:   w.Sessions().CurrentID(),
	}, nil
}
