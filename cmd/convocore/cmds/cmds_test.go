package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/convocore/pkg/ask"
	"github.com/go-go-golems/convocore/pkg/backends/scripted"
	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/config"
	"github.com/go-go-golems/convocore/pkg/feedback"
	"github.com/go-go-golems/convocore/pkg/quota"
	"github.com/go-go-golems/convocore/pkg/timeline"
)

const testScript = `
model: test
limit: 3
triggers:
  - match: hello
    fragments:
      - type: options
        text: Pick one
        options:
          - text: Tour
            value: tour
            option-id: tour
  - option-id: tour
    fragments:
      - type: text
        text: tour picked
  - match: rate
    fragments:
      - type: command
        command: thumbs
default:
  - type: text
    text: fallback
`

type feedbackRecorder struct {
	mu   sync.Mutex
	subs []feedback.Submission
	auth []string
}

func (f *feedbackRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var sub feedback.Submission
	_ = json.NewDecoder(req.Body).Decode(&sub)
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.auth = append(f.auth, req.Header.Get("Authorization"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (f *feedbackRecorder) submissions() []feedback.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feedback.Submission(nil), f.subs...)
}

func loadTestSettings(t *testing.T, feedbackURL string) {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("ask.min-delay", time.Millisecond)
	v.Set("ask.fragment-delay", time.Millisecond)
	v.Set("feedback.url", feedbackURL)
	v.Set("log.level", "error")
	require.NoError(t, load(v))
}

func newTestRepl(t *testing.T) (*repl, *bytes.Buffer, *feedbackRecorder) {
	t.Helper()
	rec := &feedbackRecorder{}
	ts := httptest.NewServer(rec)
	t.Cleanup(ts.Close)
	loadTestSettings(t, ts.URL)

	script, err := scripted.Parse([]byte(testScript))
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	out := &syncWriter{w: buf}
	host := &replHost{out: out, token: "tok"}
	w, err := newWidget(context.Background(), "", script, host, nil)
	require.NoError(t, err)
	t.Cleanup(w.Unmount)
	unsub := w.Store().Subscribe(func(ch timeline.Change) {
		if ch.Op == timeline.OpAppend || ch.Op == timeline.OpReplace {
			if !timeline.IsPlaceholder(ch.Message) {
				out.println(renderMessage(ch.Message, settings.Quota.WarningMargin))
			}
		}
	})
	t.Cleanup(unsub)
	require.NoError(t, w.Open(context.Background()))
	w.Sessions().Wait()
	return &repl{ctx: context.Background(), w: w, out: out}, buf, rec
}

func output(r *repl, buf *bytes.Buffer) string {
	r.out.mu.Lock()
	defer r.out.mu.Unlock()
	return buf.String()
}

func TestKindLineFillsArgs(t *testing.T) {
	require.Equal(t, "Opening https://example.com", kindLine(timeline.KindRedirectMessage, []string{"https://example.com"}))
	require.Equal(t, "Message is too long; the limit is  characters.", kindLine(timeline.KindMessageTooLong, nil))
	require.Equal(t, "custom-kind", kindLine(timeline.Kind("custom-kind"), nil))
}

func TestRenderMessageShowsOptionsAndQuota(t *testing.T) {
	am := timeline.AssistantMessage{
		Base:    timeline.NewBase(),
		Text:    "Pick one",
		Options: []timeline.Option{{Label: "Tour", Value: "tour"}},
		Usage:   timeline.NewUsage(3, 3),
	}
	s := renderMessage(am, quota.DefaultWarningMargin)
	require.Contains(t, s, "Pick one")
	require.Contains(t, s, "[1] Tour")
	require.Contains(t, s, "quota reached (3/3)")

	require.Empty(t, renderMessage(nil, 0))
}

func TestReplAskAndPick(t *testing.T) {
	r, buf, _ := newTestRepl(t)

	r.ask("hello", ask.Options{WaitForAllResponses: true})
	require.Contains(t, output(r, buf), "[1] Tour")

	r.meta("/pick 1")
	s := output(r, buf)
	require.Contains(t, s, "you> tour")
	require.Contains(t, s, "tour picked")

	r.meta("/pick 9")
	require.Contains(t, output(r, buf), "no such option")
}

func TestReplRateSubmitsFeedback(t *testing.T) {
	r, buf, rec := newTestRepl(t)

	r.ask("anything", ask.Options{WaitForAllResponses: true})
	r.meta("/rate down too vague")

	subs := rec.submissions()
	require.Len(t, subs, 1)
	require.Equal(t, feedback.RatingNegative, subs[0].Rating)
	require.Equal(t, "too vague", subs[0].Freeform)
	require.Equal(t, "Bearer tok", rec.auth[0])
	require.Contains(t, output(r, buf), "thanks for the feedback")

	am, ok := r.lastAnswer()
	require.True(t, ok)
	require.Equal(t, feedback.StateDone, r.w.Feedback().For(am.ID).Record().State())
}

func TestReplThumbsAnsweredOnce(t *testing.T) {
	r, buf, rec := newTestRepl(t)

	r.ask("rate", ask.Options{WaitForAllResponses: true})
	r.w.Sessions().Wait()
	require.Eventually(t, func() bool {
		for _, m := range r.w.Store().All() {
			if _, ok := m.(timeline.FeedbackPromptMessage); ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	r.meta("/thumbs up")
	r.meta("/thumbs down")
	require.Contains(t, output(r, buf), "already answered")
	require.Len(t, rec.submissions(), 1)
	require.Equal(t, feedback.RatingPositive, rec.submissions()[0].Rating)
}

func TestReplNewConversationAndState(t *testing.T) {
	r, buf, _ := newTestRepl(t)

	r.ask("anything", ask.Options{WaitForAllResponses: true})
	first := r.w.Conversation().ID()
	require.NotEmpty(t, first)

	r.meta("/new")
	require.NotEqual(t, first, r.w.Conversation().ID())
	require.Zero(t, r.w.Store().Len())

	r.meta("/state")
	require.Contains(t, output(r, buf), "send disabled=false")

	r.meta("/models")
	require.Contains(t, output(r, buf), "* test")
	require.True(t, r.meta("/quit"))
}

func TestReplHostToken(t *testing.T) {
	h := &replHost{out: &syncWriter{w: &bytes.Buffer{}}}
	_, err := h.GetAuthToken(context.Background())
	require.ErrorIs(t, err, commands.ErrMissingAuthToken)

	buf := &bytes.Buffer{}
	h = &replHost{out: &syncWriter{w: buf}, token: "x"}
	tok, err := h.GetAuthToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "x", tok)
	require.NoError(t, h.OpenURL("https://example.com"))
	require.True(t, strings.Contains(buf.String(), "open https://example.com"))
}
