package widget

import (
	"github.com/go-go-golems/convocore/pkg/session"
)

const (
	ReasonInFlight      = "in-flight"
	ReasonNoSession     = "no-session"
	ReasonQuotaBreached = session.ReasonQuotaBreached
)

// SendState tells the input surface whether sending is allowed.
type SendState struct {
	Disabled bool
	Reason   string
}

// SendState derives the send gating. A quota-breached session only locks sending while there
// is no active conversation.
func (w *Widget) SendState() SendState {
	d, ok := w.manager.Current()
	if !ok || d.Session == nil {
		return SendState{Disabled: true, Reason: ReasonNoSession}
	}
	if w.pipeline.InFlight() {
		return SendState{Disabled: true, Reason: ReasonInFlight}
	}
	if lim := session.LimitationsOf(d.Session); lim != nil && lim.Reason == session.ReasonQuotaBreached && w.conversation.ID() == "" {
		return SendState{Disabled: true, Reason: ReasonQuotaBreached}
	}
	return SendState{}
}
