package ask

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/convocore/pkg/session"
	"github.com/go-go-golems/convocore/pkg/timeline"
)

// turn renders the fragments of one reply. The reply's usage is attached to the first
// assistant message it produces.
type turn struct {
	p      *Pipeline
	logger zerolog.Logger
	usage  *timeline.Usage
}

// expand renders later fragments in order, each behind its own placeholder.
func (t *turn) expand(ctx context.Context, fragments []session.Fragment) error {
	for _, f := range fragments {
		if t.p.stopped() {
			return ErrStopped
		}
		if f.Type == session.FragmentPause {
			if err := t.p.sleep(ctx, f.Pause); err != nil {
				return err
			}
			continue
		}
		placeholder := timeline.NewPlaceholder()
		t.p.append(t.logger, placeholder)
		if err := t.p.sleep(ctx, t.p.fragmentDelay); err != nil {
			if !t.p.stopped() {
				t.p.store.RemoveByID(placeholder.ID)
			}
			return err
		}
		t.resolve(ctx, placeholder.ID, f, false)
	}
	return nil
}

// resolve replaces the placeholder with the message f renders to. When f renders to nothing the
// placeholder is removed, except for the first fragment of a reply, which leaves an
// empty-response line instead.
func (t *turn) resolve(ctx context.Context, placeholderID string, f session.Fragment, first bool) {
	if t.p.stopped() {
		return
	}
	if f.Type == session.FragmentPause {
		_ = t.p.sleep(ctx, f.Pause)
		if !t.p.stopped() {
			t.p.store.RemoveByID(placeholderID)
		}
		return
	}

	msg, ok := t.render(f)
	if !ok {
		if first {
			t.p.store.ReplaceByID(placeholderID, timeline.NewSystem(timeline.KindEmptyResponse))
			return
		}
		t.p.store.RemoveByID(placeholderID)
		return
	}
	if !t.p.store.ReplaceByID(placeholderID, msg) {
		t.logger.Debug().Str("message_id", placeholderID).Msg("placeholder already gone")
		return
	}
	if msg.Command != nil && t.p.dispatcher != nil {
		t.p.dispatcher.DispatchSpec(context.WithoutCancel(ctx), *msg.Command, msg)
	}
}

func (t *turn) render(f session.Fragment) (timeline.AssistantMessage, bool) {
	msg := timeline.AssistantMessage{Base: timeline.NewBase()}
	switch f.Type {
	case session.FragmentText:
		if f.Text == "" {
			return msg, false
		}
		msg.Text = f.Text
	case session.FragmentOptions:
		if f.Text == "" && len(f.Options) == 0 {
			return msg, false
		}
		msg.Text = f.Text
		msg.Options = toOptions(f.Options)
	case session.FragmentCommand:
		if f.Command == "" {
			return msg, false
		}
		msg.Command = &timeline.CommandSpec{Type: f.Command, Args: append([]string(nil), f.Args...)}
	default:
		t.logger.Debug().Str("fragment_type", string(f.Type)).Msg("ignoring unknown fragment type")
		return msg, false
	}
	if t.usage != nil {
		msg.Usage = t.usage
		t.usage = nil
	}
	return msg, true
}

func toOptions(in []session.Option) []timeline.Option {
	if len(in) == 0 {
		return nil
	}
	out := make([]timeline.Option, 0, len(in))
	for _, o := range in {
		out = append(out, timeline.Option{Label: o.Text, Value: o.Value, OptionID: o.OptionID})
	}
	return out
}

func toUsage(u *session.Usage) *timeline.Usage {
	if u == nil {
		return nil
	}
	out := &timeline.Usage{}
	if u.Used != nil {
		v := *u.Used
		out.Used = &v
	}
	if u.Limit != nil {
		v := *u.Limit
		out.Limit = &v
	}
	return out
}
