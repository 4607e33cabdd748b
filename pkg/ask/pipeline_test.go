package ask

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/go-go-golems/convocore/pkg/session"
	"github.com/go-go-golems/convocore/pkg/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu      sync.Mutex
	resp    *session.Response
	err     error
	release chan struct{}
	sent    []string
	convs   atomic.Int32
}

func (s *fakeSession) Init(context.Context) error { return nil }
func (s *fakeSession) IsInitialized() bool        { return true }
func (s *fakeSession) IsInitializing() bool       { return false }

func (s *fakeSession) SendMessage(ctx context.Context, convID, text string, _ session.SendOptions) (*session.Response, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, convID+":"+text)
	return s.resp, s.err
}

func (s *fakeSession) CreateNewConversation(context.Context) (session.Conversation, error) {
	n := s.convs.Add(1)
	return session.Conversation{ID: "conv-" + string(rune('0'+n)), CreatedAt: time.Now()}, nil
}

type fixedSessions struct{ d session.Descriptor }

func (f fixedSessions) Current() (session.Descriptor, bool) {
	return f.d, f.d.Session != nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	specs []timeline.CommandSpec
	store *timeline.Store
}

func (d *recordingDispatcher) DispatchSpec(_ context.Context, spec timeline.CommandSpec, _ timeline.Message) {
	d.mu.Lock()
	d.specs = append(d.specs, spec)
	d.mu.Unlock()
	_ = d.store.Append(timeline.NewBanner(timeline.KindFinishConversationBanner))
}

func newTestPipeline(t *testing.T, sess session.Session) (*Pipeline, *timeline.Store, *recordingDispatcher) {
	t.Helper()
	return newTestPipelineWith(t, sess, nil)
}

func newTestPipelineWith(t *testing.T, sess session.Session, tweak func(*Config)) (*Pipeline, *timeline.Store, *recordingDispatcher) {
	t.Helper()
	store := timeline.NewStore()
	disp := &recordingDispatcher{store: store}
	var sessions fixedSessions
	if sess != nil {
		sessions.d = session.Descriptor{ModelID: "m1", Session: sess}
	}
	cfg := Config{
		Store:            store,
		Sessions:         sessions,
		Dispatcher:       disp,
		MinDelay:         5 * time.Millisecond,
		FragmentDelay:    time.Millisecond,
		MaxMessageLength: 20,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Stop()
		p.Wait()
	})
	return p, store, disp
}

// describe flattens a snapshot into "origin:detail" strings.
func describe(msgs []timeline.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case timeline.UserMessage:
			out = append(out, "user:"+v.Text)
		case timeline.AssistantMessage:
			switch {
			case v.IsLoading:
				out = append(out, "assistant:loading")
			case v.Command != nil:
				out = append(out, "assistant:!"+v.Command.Type)
			default:
				out = append(out, "assistant:"+v.Text)
			}
		case timeline.SystemMessage:
			out = append(out, "system:"+string(v.Kind))
		case timeline.BannerMessage:
			out = append(out, "banner:"+string(v.Kind))
		case timeline.FeedbackPromptMessage:
			out = append(out, "feedback-prompt")
		}
	}
	return out
}

func text(s string) session.Fragment {
	return session.Fragment{Type: session.FragmentText, Text: s}
}

func countLoading(msgs []timeline.Message) int {
	n := 0
	for _, m := range msgs {
		if timeline.IsPlaceholder(m) {
			n++
		}
	}
	return n
}

func TestAsk_HappyPath(t *testing.T) {
	sess := &fakeSession{resp: &session.Response{Fragments: []session.Fragment{text("hi there")}}}
	p, store, _ := newTestPipeline(t, sess)

	var seen [][]string
	store.Subscribe(func(ch timeline.Change) { seen = append(seen, describe(ch.Snapshot)) })

	require.NoError(t, p.Ask(context.Background(), "hello", Options{WaitForAllResponses: true}))
	if diff := cmp.Diff([]string{"user:hello", "assistant:hi there"}, describe(store.All())); diff != "" {
		t.Fatalf("timeline mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, [][]string{
		{"user:hello"},
		{"user:hello", "assistant:loading"},
		{"user:hello", "assistant:hi there"},
	}, seen)
	require.Equal(t, []string{"conv-1:hello"}, sess.sent)
	require.Equal(t, "conv-1", p.Conversation().ID())
	require.False(t, p.InFlight())
}

func TestAsk_BlankTextIsIgnored(t *testing.T) {
	sess := &fakeSession{}
	p, store, _ := newTestPipeline(t, sess)
	require.NoError(t, p.Ask(context.Background(), "   ", Options{}))
	require.Zero(t, store.Len())
	require.Empty(t, sess.sent)
}

func TestAsk_HideUserEcho(t *testing.T) {
	sess := &fakeSession{resp: &session.Response{Fragments: []session.Fragment{text("ok")}}}
	p, store, _ := newTestPipeline(t, sess)
	require.NoError(t, p.Ask(context.Background(), "hidden", Options{HideUserEcho: true, WaitForAllResponses: true}))
	require.Equal(t, []string{"assistant:ok"}, describe(store.All()))
}

func TestAsk_MessageTooLong(t *testing.T) {
	sess := &fakeSession{}
	p, store, _ := newTestPipeline(t, sess)
	require.NoError(t, p.Ask(context.Background(), "this message is far too long", Options{}))
	msgs := store.All()
	require.Equal(t, []string{"system:message-too-long"}, describe(msgs))
	require.Equal(t, []string{"20"}, msgs[0].(timeline.SystemMessage).Args)
	require.Empty(t, sess.sent)
	require.False(t, p.InFlight())
}

func TestAsk_EmptyResponse(t *testing.T) {
	p, store, _ := newTestPipeline(t, &fakeSession{resp: &session.Response{}})
	require.NoError(t, p.Ask(context.Background(), "anyone?", Options{}))
	require.Equal(t, []string{"user:anyone?", "system:empty-response"}, describe(store.All()))
}

func TestAsk_FirstFragmentRenderingNothingIsEmptyResponse(t *testing.T) {
	p, store, _ := newTestPipeline(t, &fakeSession{resp: &session.Response{Fragments: []session.Fragment{text("")}}})
	require.NoError(t, p.Ask(context.Background(), "x", Options{}))
	require.Equal(t, []string{"user:x", "system:empty-response"}, describe(store.All()))

	p, store, _ = newTestPipeline(t, &fakeSession{resp: &session.Response{
		Fragments: []session.Fragment{{Type: session.FragmentCommand}, text("later")},
	}})
	require.NoError(t, p.Ask(context.Background(), "x", Options{WaitForAllResponses: true}))
	require.Equal(t, []string{"user:x", "system:empty-response", "assistant:later"}, describe(store.All()))
}

func TestAsk_HoldsPlaceholderForMinDelay(t *testing.T) {
	sess := &fakeSession{resp: &session.Response{Fragments: []session.Fragment{text("fast")}}}
	p, store, _ := newTestPipelineWith(t, sess, func(c *Config) { c.MinDelay = 80 * time.Millisecond })

	start := time.Now()
	require.NoError(t, p.Ask(context.Background(), "go", Options{}))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, []string{"user:go", "assistant:fast"}, describe(store.All()))
}

func TestAsk_PacingFailureAppendsErrorPair(t *testing.T) {
	sess := &fakeSession{resp: &session.Response{Fragments: []session.Fragment{text("a"), text("b")}}}
	p, store, _ := newTestPipelineWith(t, sess, func(c *Config) { c.FragmentDelay = 100 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Ask(ctx, "x", Options{WaitForAllResponses: true})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []string{
		"user:x",
		"assistant:a",
		"system:request-error",
		"banner:request-error",
	}, describe(store.All()))
	require.False(t, p.InFlight())
}

func TestAsk_SingleFlight(t *testing.T) {
	sess := &fakeSession{
		resp:    &session.Response{Fragments: []session.Fragment{text("done")}},
		release: make(chan struct{}),
	}
	p, store, _ := newTestPipeline(t, sess)

	errc := make(chan error, 1)
	go func() { errc <- p.Ask(context.Background(), "first", Options{WaitForAllResponses: true}) }()
	require.Eventually(t, p.InFlight, time.Second, time.Millisecond)

	require.ErrorIs(t, p.Ask(context.Background(), "second", Options{}), ErrInFlight)
	require.Equal(t, 1, countLoading(store.All()))

	close(sess.release)
	require.NoError(t, <-errc)
	require.Equal(t, []string{"user:first", "assistant:done"}, describe(store.All()))

	// the guard is free again
	require.NoError(t, p.Ask(context.Background(), "third", Options{WaitForAllResponses: true}))
}

func TestAsk_FailureAppendsErrorPairAndReleasesGuard(t *testing.T) {
	sess := &fakeSession{err: errors.New("backend down")}
	p, store, _ := newTestPipeline(t, sess)

	err := p.Ask(context.Background(), "hello", Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend down")
	require.Equal(t, []string{"user:hello", "system:request-error", "banner:request-error"}, describe(store.All()))
	require.False(t, p.InFlight())

	sess.mu.Lock()
	sess.err = nil
	sess.resp = &session.Response{Fragments: []session.Fragment{text("back")}}
	sess.mu.Unlock()
	require.NoError(t, p.Ask(context.Background(), "retry", Options{WaitForAllResponses: true}))
	require.Equal(t, "assistant:back", describe(store.All())[4])
}

func TestAsk_NoSession(t *testing.T) {
	p, store, _ := newTestPipeline(t, nil)
	require.ErrorIs(t, p.Ask(context.Background(), "hello", Options{}), ErrNoSession)
	require.Equal(t, []string{"user:hello", "system:request-error", "banner:request-error"}, describe(store.All()))
}

func TestAsk_FragmentsKeepBackendOrder(t *testing.T) {
	sess := &fakeSession{resp: &session.Response{
		Fragments: []session.Fragment{
			text("one"),
			{Type: session.FragmentPause, Pause: time.Millisecond},
			{Type: session.FragmentOptions, Text: "pick", Options: []session.Option{{Text: "A", Value: "a"}, {Text: "B", Value: "b", OptionID: "opt-b"}}},
			text(""),
			{Type: session.FragmentCommand, Command: "finish-conversation"},
			text("three"),
		},
		Usage: &session.Usage{Used: intp(15), Limit: intp(20)},
	}}
	p, store, disp := newTestPipeline(t, sess)

	maxLoading := 0
	store.Subscribe(func(ch timeline.Change) {
		if n := countLoading(ch.Snapshot); n > maxLoading {
			maxLoading = n
		}
	})

	require.NoError(t, p.Ask(context.Background(), "go", Options{WaitForAllResponses: true}))
	require.Equal(t, []string{
		"user:go",
		"assistant:one",
		"assistant:pick",
		"assistant:!finish-conversation",
		"banner:finish-conversation-banner",
		"assistant:three",
	}, describe(store.All()))
	require.Equal(t, 1, maxLoading)
	require.Equal(t, []timeline.CommandSpec{{Type: "finish-conversation"}}, disp.specs)

	msgs := store.All()
	first := msgs[1].(timeline.AssistantMessage)
	require.NotNil(t, first.Usage)
	require.Equal(t, 15, *first.Usage.Used)
	require.Nil(t, msgs[2].(timeline.AssistantMessage).Usage)
	require.Equal(t, []timeline.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b", OptionID: "opt-b"}},
		msgs[2].(timeline.AssistantMessage).Options)
}

func TestAsk_LateFragmentsRenderAsynchronously(t *testing.T) {
	sess := &fakeSession{resp: &session.Response{Fragments: []session.Fragment{text("first"), text("second")}}}
	p, store, _ := newTestPipelineWith(t, sess, func(c *Config) { c.FragmentDelay = 200 * time.Millisecond })

	require.NoError(t, p.Ask(context.Background(), "go", Options{}))
	// the tail may not have placed its placeholder yet, but it cannot have rendered
	now := describe(store.All())
	require.Equal(t, []string{"user:go", "assistant:first"}, now[:2])
	require.NotContains(t, now, "assistant:second")
	require.True(t, p.InFlight())
	require.ErrorIs(t, p.Ask(context.Background(), "again", Options{}), ErrInFlight)

	require.Eventually(t, func() bool { return !p.InFlight() }, time.Second, time.Millisecond)
	require.Equal(t, []string{"user:go", "assistant:first", "assistant:second"}, describe(store.All()))
}

func TestAsk_StopDiscardsResult(t *testing.T) {
	sess := &fakeSession{
		resp:    &session.Response{Fragments: []session.Fragment{text("late")}},
		release: make(chan struct{}),
	}
	p, store, _ := newTestPipeline(t, sess)

	errc := make(chan error, 1)
	go func() { errc <- p.Ask(context.Background(), "hello", Options{}) }()
	require.Eventually(t, p.InFlight, time.Second, time.Millisecond)

	p.Stop()
	require.ErrorIs(t, <-errc, ErrStopped)
	close(sess.release)
	p.Wait()
	require.Equal(t, []string{"user:hello", "assistant:loading"}, describe(store.All()))
	require.ErrorIs(t, p.Ask(context.Background(), "again", Options{}), ErrStopped)
}

func TestAsk_PlaceholderClearedByResetIsTolerated(t *testing.T) {
	sess := &fakeSession{
		resp:    &session.Response{Fragments: []session.Fragment{text("late")}},
		release: make(chan struct{}),
	}
	p, store, _ := newTestPipeline(t, sess)

	errc := make(chan error, 1)
	go func() { errc <- p.Ask(context.Background(), "hello", Options{}) }()
	require.Eventually(t, func() bool { return countLoading(store.All()) == 1 }, time.Second, time.Millisecond)

	store.Reset()
	close(sess.release)
	require.NoError(t, <-errc)
	require.Zero(t, store.Len())
}

func intp(v int) *int { return &v }

func TestPipeline_StopRefusesNewGoroutines(t *testing.T) {
	sess := &fakeSession{resp: &session.Response{Fragments: []session.Fragment{text("a"), text("b")}}}
	p, _, _ := newTestPipelineWith(t, sess, func(c *Config) { c.MinDelay = 0 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Ask(context.Background(), "go", Options{})
		}()
	}
	p.Stop()
	p.Wait()
	require.False(t, p.track())
	wg.Wait()
	p.Wait()
}
