package cmds

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/convocore/pkg/backends/scripted"
	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/feedback"
	"github.com/go-go-golems/convocore/pkg/pending"
	"github.com/go-go-golems/convocore/pkg/session"
	"github.com/go-go-golems/convocore/pkg/widget"
)

// newWidget builds a widget from the loaded settings. Every widget gets its own scripted
// session so conversations and turn counters are not shared between mounts.
func newWidget(ctx context.Context, id string, script *scripted.Script, host commands.Host, pend *pending.Store) (*widget.Widget, error) {
	accounts, err := commands.NewAccountsClient(settings.Commands.AccountsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "accounts client")
	}
	sink, err := feedback.NewHTTPSink(settings.Feedback.URL, nil, host.GetAuthToken)
	if err != nil {
		return nil, errors.Wrap(err, "feedback sink")
	}
	return widget.New(widget.Config{
		ID:               id,
		BaseCtx:          ctx,
		Host:             host,
		Accounts:         accounts,
		Tours:            settings.Commands.Tours,
		FeedbackSink:     sink,
		Pending:          pend,
		Descriptors:      []session.Descriptor{scripted.New(script).Descriptor()},
		ModelID:          script.Model,
		MinDelay:         settings.Ask.MinDelay,
		FragmentDelay:    settings.Ask.FragmentDelay,
		MaxMessageLength: settings.Ask.MaxMessageLength,
		WarningMargin:    settings.Quota.WarningMargin,
	})
}
