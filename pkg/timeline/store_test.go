package timeline

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func user(id, text string) UserMessage {
	return UserMessage{Base: Base{ID: id}, Text: text}
}

func TestStore_AppendReplaceRemove(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(user("u1", "hello")))
	require.NoError(t, s.Append(AssistantMessage{Base: Base{ID: "a1"}, IsLoading: true}))

	before := s.All()
	require.Len(t, before, 2)
	require.True(t, IsPlaceholder(before[1]))

	require.True(t, s.ReplaceByID("a1", AssistantMessage{Base: Base{ID: "a1"}, Text: "hi there"}))
	after := s.All()
	require.Equal(t, "hi there", after[1].(AssistantMessage).Text)

	// the earlier snapshot is untouched
	require.True(t, IsPlaceholder(before[1]))

	require.True(t, s.RemoveByID("u1"))
	require.Len(t, s.All(), 1)
	require.Len(t, after, 2)
	require.Equal(t, uint64(4), s.Version())
}

func TestStore_MissingIDIsNoop(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(user("u1", "hello")))

	calls := 0
	unsub := s.Subscribe(func(Change) { calls++ })
	defer unsub()

	require.False(t, s.ReplaceByID("nope", user("nope", "x")))
	require.False(t, s.RemoveByID("nope"))
	require.Equal(t, 0, calls)
	require.Equal(t, uint64(1), s.Version())
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	s := NewStore()
	require.Error(t, s.Append(nil))
	require.Error(t, s.Append(user("", "no id")))
	var nilStore *Store
	require.Error(t, nilStore.Append(user("u1", "x")))
}

func TestStore_ObserversSeeCommittedOrder(t *testing.T) {
	s := NewStore()
	var got []Op
	var snapshotLens []int
	unsub := s.Subscribe(func(ch Change) {
		got = append(got, ch.Op)
		snapshotLens = append(snapshotLens, len(ch.Snapshot))
	})

	require.NoError(t, s.Append(user("u1", "a")))
	require.NoError(t, s.Append(user("u2", "b")))
	s.ReplaceByID("u2", user("u2", "c"))
	s.RemoveByID("u1")
	s.Reset()

	want := []Op{OpAppend, OpAppend, OpReplace, OpRemove, OpReset}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []int{1, 2, 2, 1, 0}, snapshotLens)

	unsub()
	require.NoError(t, s.Append(user("u3", "d")))
	require.Len(t, got, 5)
}

func TestStore_ReplaceKeepsPosition(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(user("u1", "a")))
	require.NoError(t, s.Append(AssistantMessage{Base: Base{ID: "p1"}, IsLoading: true}))
	require.NoError(t, s.Append(user("u2", "b")))

	s.ReplaceByID("p1", NewSystem(KindEmptyResponse))
	ids := []string{}
	for _, m := range s.All() {
		ids = append(ids, m.MessageID())
	}
	require.Equal(t, "u1", ids[0])
	require.Equal(t, "u2", ids[2])
	require.Equal(t, OriginSystem, s.All()[1].Origin())
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Append(user(NewID(), "x")))
		}()
	}
	wg.Wait()
	require.Equal(t, 50, s.Len())
	require.Equal(t, uint64(50), s.Version())
}

func TestCodec_RoundTripAssistant(t *testing.T) {
	in := AssistantMessage{
		Base:    Base{ID: "a1"},
		Text:    "pick one",
		Options: []Option{{Label: "Yes", Value: "yes", OptionID: "o1"}},
		Usage:   NewUsage(3, 20),
	}
	env, err := Encode(in)
	require.NoError(t, err)
	require.Equal(t, OriginAssistant, env.Origin)

	out, err := Decode(env)
	require.NoError(t, err)
	require.Equal(t, in.Text, out.(AssistantMessage).Text)
	require.Equal(t, 20, *out.(AssistantMessage).Usage.Limit)

	_, err = Decode(Envelope{Origin: "bogus"})
	require.Error(t, err)
}

func TestKind_Known(t *testing.T) {
	require.True(t, KindToggleOrg2FAFailed.Known())
	require.True(t, Kind("message-too-long").Known())
	require.False(t, Kind("toggle-2fa").Known())
}
