// Package quota derives the usage alert shown next to a reply from its quota counters.
package quota

import "github.com/go-go-golems/convocore/pkg/timeline"

// DefaultWarningMargin is how many messages before the limit the warning fires.
const DefaultWarningMargin = 5

type Level string

const (
	LevelNone    Level = ""
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// Action is a UI affordance attached to an alert.
type Action string

const ActionNewConversation Action = "new-conversation"

type Alert struct {
	Level  Level
	Used   int
	Limit  int
	Action Action
}

func (a Alert) Active() bool { return a.Level != LevelNone }

// Evaluate maps usage counters to an alert. Missing counters yield no alert.
//
// The warning is a single point (used+margin == limit), not a range: a batch that jumps over
// that point never warns.
func Evaluate(usage *timeline.Usage, margin int) Alert {
	if usage == nil || usage.Used == nil || usage.Limit == nil {
		return Alert{}
	}
	used, limit := *usage.Used, *usage.Limit
	switch {
	case used >= limit:
		return Alert{Level: LevelDanger, Used: used, Limit: limit, Action: ActionNewConversation}
	case used+margin == limit:
		return Alert{Level: LevelWarning, Used: used, Limit: limit}
	default:
		return Alert{}
	}
}

// ForMessage evaluates the usage of an assistant message; other origins never alert.
func ForMessage(m timeline.Message, margin int) Alert {
	am, ok := m.(timeline.AssistantMessage)
	if !ok || am.IsLoading {
		return Alert{}
	}
	return Evaluate(am.Usage, margin)
}
