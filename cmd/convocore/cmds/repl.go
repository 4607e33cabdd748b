package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/convocore/pkg/ask"
	"github.com/go-go-golems/convocore/pkg/backends/scripted"
	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/feedback"
	"github.com/go-go-golems/convocore/pkg/pending"
	"github.com/go-go-golems/convocore/pkg/timeline"
	"github.com/go-go-golems/convocore/pkg/widget"
)

type replFlags struct {
	token    string
	userID   string
	username string
	orgID    string
	first    string
}

func NewReplCommand() *cobra.Command {
	var rf replFlags
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Chat with the scripted assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd.Context(), rf, os.Stdin, os.Stdout)
		},
	}
	f := cmd.Flags()
	f.String("script", "", "Scripted backend file (default: built-in script)")
	bindFlag(f, "script", "backend.script")
	f.StringVar(&rf.token, "token", "dev-token", "Bearer token handed to the accounts and feedback APIs")
	f.StringVar(&rf.userID, "user-id", "local", "Current user id")
	f.StringVar(&rf.username, "username", "local", "Current username")
	f.StringVar(&rf.orgID, "org-id", "local-org", "Current organization id")
	f.StringVar(&rf.first, "first-message", "", "Message queued before the widget opens and sent once the session is ready")
	return cmd
}

// syncWriter serializes writes from the prompt loop and timeline observers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) println(line string) {
	_, _ = fmt.Fprintln(s, line)
}

// replHost prints host actions instead of performing them.
type replHost struct {
	out   *syncWriter
	token string
	user  commands.User
}

var _ commands.Host = &replHost{}

func (h *replHost) OpenURL(url string) error {
	h.out.println(systemStyle.Render("[host] open " + url))
	return nil
}

func (h *replHost) StartTour(name string) error {
	h.out.println(systemStyle.Render("[host] start tour " + name))
	return nil
}

func (h *replHost) ToggleFeedbackModal(open bool) {
	h.out.println(systemStyle.Render(fmt.Sprintf("[host] feedback modal open=%t", open)))
}

func (h *replHost) GetAuthToken(context.Context) (string, error) {
	if h.token == "" {
		return "", commands.ErrMissingAuthToken
	}
	return h.token, nil
}

func (h *replHost) GetCurrentUser(context.Context) (commands.User, error) {
	return h.user, nil
}

func runRepl(ctx context.Context, rf replFlags, in io.Reader, rawOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	script, err := scripted.Load(settings.Backend.Script)
	if err != nil {
		return err
	}
	out := &syncWriter{w: rawOut}
	host := &replHost{
		out:   out,
		token: rf.token,
		user:  commands.User{ID: rf.userID, Username: rf.username, OrgID: rf.orgID},
	}
	pend := pending.NewStore()
	if rf.first != "" {
		pend.Set(pending.Message{Text: rf.first})
	}

	w, err := newWidget(ctx, "", script, host, pend)
	if err != nil {
		return err
	}
	defer w.Unmount()

	margin := settings.Quota.WarningMargin
	unsub := w.Store().Subscribe(func(ch timeline.Change) {
		switch ch.Op {
		case timeline.OpAppend, timeline.OpReplace:
			if timeline.IsPlaceholder(ch.Message) {
				return
			}
			if line := renderMessage(ch.Message, margin); line != "" {
				out.println(line)
			}
		case timeline.OpReset:
			out.println(systemStyle.Render("-- new conversation"))
		case timeline.OpRemove:
		}
	})
	defer unsub()

	if err := w.Open(ctx); err != nil {
		return err
	}
	out.println(systemStyle.Render("Type a message, or /help for commands."))

	r := &repl{ctx: ctx, w: w, out: out}
	ui := &input.UI{Writer: out, Reader: in}
	for {
		line, err := ui.Ask(">", &input.Options{HideOrder: true, Required: true})
		switch {
		case errors.Is(err, input.ErrEmpty):
			continue
		case errors.Is(err, input.ErrInterrupted), errors.Is(err, io.EOF):
			return nil
		case err != nil && strings.HasSuffix(err.Error(), "EOF"):
			return nil
		case err != nil:
			return errors.Wrap(err, "read input")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			r.ask(line, ask.Options{WaitForAllResponses: true})
			continue
		}
		if quit := r.meta(line); quit {
			return nil
		}
	}
}

type repl struct {
	ctx context.Context
	w   *widget.Widget
	out *syncWriter
}

func (r *repl) ask(text string, opts ask.Options) {
	if st := r.w.SendState(); st.Disabled {
		r.out.println(dangerStyle.Render("sending disabled: " + st.Reason))
		return
	}
	if err := r.w.Ask(r.ctx, text, opts); err != nil {
		log.Debug().Err(err).Msg("ask failed")
		if errors.Is(err, ask.ErrInFlight) {
			r.out.println(systemStyle.Render("-- still waiting for the previous answer"))
		}
	}
}

const replHelp = `/new               start a new conversation
/models            list models
/model ID          select a model
/pick N            choose option N of the last answer
/rate up|down TXT  rate the last answer
/thumbs up|down    answer the last thumbs prompt
/copy              copy the last answer to the clipboard
/state             show send gating and quota
/quit              leave`

func (r *repl) meta(line string) (quit bool) {
	fields := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		r.out.println(replHelp)
	case "/new":
		conv, err := r.w.StartNewConversation(r.ctx)
		if err != nil {
			r.fail(err)
			return false
		}
		r.out.println(systemStyle.Render("-- conversation " + conv.ID))
	case "/models":
		current := r.w.Sessions().CurrentID()
		for _, d := range r.w.Sessions().Descriptors() {
			mark := " "
			if d.ModelID == current {
				mark = "*"
			}
			r.out.println(fmt.Sprintf("%s %s", mark, d.ModelID))
		}
	case "/model":
		r.w.SelectModel(arg)
		r.w.Sessions().Wait()
	case "/pick":
		r.pick(arg)
	case "/rate":
		r.rate(fields[1:])
	case "/thumbs":
		r.thumbs(arg)
	case "/copy":
		am, ok := r.lastAnswer()
		if !ok {
			r.out.println(systemStyle.Render("-- nothing to copy"))
			return false
		}
		if err := r.w.CopyMessage(feedback.SystemClipboard{}, am.ID); err != nil {
			r.fail(err)
		}
	case "/state":
		st := r.w.SendState()
		r.out.println(fmt.Sprintf("send disabled=%t reason=%q conversation=%q", st.Disabled, st.Reason, r.w.Conversation().ID()))
		if _, a := r.w.Quota().Current(); a.Active() {
			r.out.println(renderAlert(a))
		}
	default:
		r.out.println(systemStyle.Render("-- unknown command " + fields[0]))
	}
	return false
}

func (r *repl) fail(err error) {
	r.out.println(dangerStyle.Render("error: " + err.Error()))
}

func (r *repl) lastAnswer() (timeline.AssistantMessage, bool) {
	msgs := r.w.Store().All()
	for i := len(msgs) - 1; i >= 0; i-- {
		if am, ok := msgs[i].(timeline.AssistantMessage); ok && !am.IsLoading {
			return am, true
		}
	}
	return timeline.AssistantMessage{}, false
}

func (r *repl) pick(arg string) {
	n, err := strconv.Atoi(arg)
	am, ok := r.lastAnswer()
	if err != nil || !ok || n < 1 || n > len(am.Options) {
		r.out.println(systemStyle.Render("-- no such option"))
		return
	}
	o := am.Options[n-1]
	text := o.Value
	if text == "" {
		text = o.Label
	}
	r.ask(text, ask.Options{OptionID: o.OptionID, WaitForAllResponses: true})
}

func parseRating(s string) (feedback.Rating, bool) {
	switch s {
	case "up", "+":
		return feedback.RatingPositive, true
	case "down", "-":
		return feedback.RatingNegative, true
	default:
		return feedback.RatingNone, false
	}
}

func (r *repl) rate(args []string) {
	if len(args) == 0 {
		r.out.println(systemStyle.Render("-- usage: /rate up|down [text]"))
		return
	}
	rating, ok := parseRating(args[0])
	am, found := r.lastAnswer()
	if !ok || !found {
		r.out.println(systemStyle.Render("-- nothing to rate"))
		return
	}
	m := r.w.Feedback().For(am.ID)
	if rating == feedback.RatingPositive {
		m.OpenPositive()
	} else {
		m.OpenNegative()
	}
	if err := m.Submit(r.ctx, "", strings.Join(args[1:], " ")); err != nil {
		r.fail(err)
		return
	}
	if m.Record().Sent {
		r.out.println(systemStyle.Render("-- thanks for the feedback"))
		m.CloseCompletion()
	}
}

func (r *repl) thumbs(arg string) {
	rating, ok := parseRating(arg)
	if !ok {
		r.out.println(systemStyle.Render("-- usage: /thumbs up|down"))
		return
	}
	msgs := r.w.Store().All()
	for i := len(msgs) - 1; i >= 0; i-- {
		if fp, ok := msgs[i].(timeline.FeedbackPromptMessage); ok {
			if !r.w.Feedback().Thumbs(fp.ID).Choose(r.ctx, rating) {
				r.out.println(systemStyle.Render("-- already answered"))
			}
			return
		}
	}
	r.out.println(systemStyle.Render("-- no thumbs prompt"))
}
