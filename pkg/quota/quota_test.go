package quota

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/convocore/pkg/timeline"
)

func intp(v int) *int { return &v }

func TestEvaluate_Thresholds(t *testing.T) {
	tests := []struct {
		name  string
		usage *timeline.Usage
		want  Level
	}{
		{"warning point", timeline.NewUsage(15, 20), LevelWarning},
		{"at limit", timeline.NewUsage(20, 20), LevelDanger},
		{"over limit", timeline.NewUsage(25, 20), LevelDanger},
		{"well below", timeline.NewUsage(10, 20), LevelNone},
		{"one past warning point", timeline.NewUsage(16, 20), LevelNone},
		{"one before warning point", timeline.NewUsage(14, 20), LevelNone},
		{"missing limit", &timeline.Usage{Used: intp(5)}, LevelNone},
		{"missing used", &timeline.Usage{Limit: intp(20)}, LevelNone},
		{"nil usage", nil, LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Evaluate(tt.usage, DefaultWarningMargin).Level)
		})
	}
}

func TestEvaluate_DangerOffersNewConversation(t *testing.T) {
	a := Evaluate(timeline.NewUsage(20, 20), DefaultWarningMargin)
	require.Equal(t, ActionNewConversation, a.Action)
	require.True(t, a.Active())

	w := Evaluate(timeline.NewUsage(15, 20), DefaultWarningMargin)
	require.Equal(t, Action(""), w.Action)
}

func TestEvaluate_CustomMargin(t *testing.T) {
	require.Equal(t, LevelWarning, Evaluate(timeline.NewUsage(18, 20), 2).Level)
	require.Equal(t, LevelNone, Evaluate(timeline.NewUsage(15, 20), 2).Level)
}

func TestForMessage_IgnoresNonAssistant(t *testing.T) {
	require.False(t, ForMessage(timeline.NewSystem(timeline.KindRequestError), 5).Active())
	loading := timeline.NewPlaceholder()
	loading.Usage = timeline.NewUsage(20, 20)
	require.False(t, ForMessage(loading, 5).Active())
}

func TestMonitor_RecomputesPerMessage(t *testing.T) {
	store := timeline.NewStore()
	m := NewMonitor(DefaultWarningMargin)
	m.Attach(store)
	defer m.Detach()

	var seen []Level
	m.OnChange(func(_ string, a Alert) { seen = append(seen, a.Level) })

	a1 := timeline.AssistantMessage{Base: timeline.NewBase(), Text: "one", Usage: timeline.NewUsage(15, 20)}
	require.NoError(t, store.Append(a1))
	id, alert := m.Current()
	require.Equal(t, a1.ID, id)
	require.Equal(t, LevelWarning, alert.Level)

	a2 := timeline.AssistantMessage{Base: timeline.NewBase(), Text: "two", Usage: timeline.NewUsage(16, 20)}
	require.NoError(t, store.Append(a2))
	id, alert = m.Current()
	require.Equal(t, a2.ID, id)
	require.Equal(t, LevelNone, alert.Level)

	// a user message does not change the derived alert
	require.NoError(t, store.Append(timeline.UserMessage{Base: timeline.NewBase(), Text: "hey"}))

	a3 := timeline.AssistantMessage{Base: timeline.NewBase(), Text: "three", Usage: timeline.NewUsage(20, 20)}
	require.NoError(t, store.Append(a3))
	_, alert = m.Current()
	require.Equal(t, LevelDanger, alert.Level)

	require.Equal(t, []Level{LevelWarning, LevelNone, LevelDanger}, seen)
}
