package quota

import (
	"sync"

	"github.com/go-go-golems/convocore/pkg/timeline"
)

// Monitor recomputes the alert whenever the timeline changes. The alert always belongs to the
// most recent assistant message that carries usage; nothing is cached across messages.
type Monitor struct {
	margin int

	mu        sync.Mutex
	alert     Alert
	messageID string
	listeners []func(messageID string, a Alert)

	unsub func()
}

func NewMonitor(margin int) *Monitor {
	if margin < 0 {
		margin = DefaultWarningMargin
	}
	return &Monitor{margin: margin, unsub: func() {}}
}

// Attach subscribes the monitor to store and evaluates the current snapshot.
func (m *Monitor) Attach(store *timeline.Store) {
	m.unsub()
	m.recompute(store.All())
	m.unsub = store.Subscribe(func(ch timeline.Change) {
		m.recompute(ch.Snapshot)
	})
}

func (m *Monitor) Detach() {
	m.unsub()
	m.unsub = func() {}
}

// OnChange registers a callback fired when the derived alert or its message changes.
func (m *Monitor) OnChange(fn func(messageID string, a Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Current returns the latest alert and the id of the message it was derived from.
func (m *Monitor) Current() (string, Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageID, m.alert
}

func (m *Monitor) recompute(snapshot []timeline.Message) {
	var (
		id    string
		alert Alert
	)
	for i := len(snapshot) - 1; i >= 0; i-- {
		am, ok := snapshot[i].(timeline.AssistantMessage)
		if !ok || am.IsLoading || am.Usage == nil {
			continue
		}
		id = am.ID
		alert = Evaluate(am.Usage, m.margin)
		break
	}

	m.mu.Lock()
	changed := id != m.messageID || alert != m.alert
	m.messageID, m.alert = id, alert
	listeners := append([]func(string, Alert){}, m.listeners...)
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(id, alert)
	}
}
