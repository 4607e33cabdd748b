package server

import (
	"context"
	"net/url"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/eventbus"
)

// wsHost performs host actions by publishing host frames on the widget's topic, so they reach
// the page in order with the timeline events that caused them.
type wsHost struct {
	widgetID string
	pub      message.Publisher

	mu    sync.RWMutex
	token string
	user  commands.User
}

var _ commands.Host = &wsHost{}

func (h *wsHost) setCredentials(token string, user commands.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if token != "" {
		h.token = token
	}
	if user != (commands.User{}) {
		h.user = user
	}
}

func (h *wsHost) publish(f hostFrame) error {
	f.WidgetID = h.widgetID
	return eventbus.PublishJSON(h.pub, eventbus.Topic(h.widgetID), f)
}

// OpenURL only accepts absolute http(s) URLs; the page opens them without an opener.
func (h *wsHost) OpenURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "open url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("open url: unsupported scheme %q", u.Scheme)
	}
	return h.publish(hostFrame{Type: "open-url", URL: u.String(), NoOpener: true})
}

func (h *wsHost) StartTour(name string) error {
	return h.publish(hostFrame{Type: "start-tour", Tour: name})
}

func (h *wsHost) ToggleFeedbackModal(open bool) {
	_ = h.publish(hostFrame{Type: "toggle-feedback-modal", Open: &open})
}

func (h *wsHost) GetAuthToken(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return "", commands.ErrMissingAuthToken
	}
	return h.token, nil
}

func (h *wsHost) GetCurrentUser(context.Context) (commands.User, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.user, nil
}
