// Package commands executes the side-effecting actions an assistant reply can request and folds
// their outcome back into the timeline as system and banner messages.
package commands

import (
	"strconv"
	"strings"

	"github.com/go-go-golems/convocore/pkg/timeline"
)

// Name is the wire identifier of a command.
type Name string

const (
	NameFinishConversation   Name = "finish-conversation"
	NameRedirect             Name = "redirect"
	NameTourStart            Name = "tour-start"
	NameFeedbackModal        Name = "feedback-modal"
	NameManageOrg2FA         Name = "manage-org-2fa"
	NameCreateServiceAccount Name = "create-service-account"
	NameThumbs               Name = "thumbs"
)

// Command is the closed set of commands the dispatcher knows how to run.
type Command interface {
	Name() Name
	isCommand()
}

type FinishConversation struct{}

type Redirect struct {
	URL string
}

type TourStart struct {
	Tour string
}

type FeedbackModal struct {
	Open bool
}

type ManageOrg2FA struct {
	Enable bool
}

type CreateServiceAccount struct {
	AccountName string
	Description string
	Environment string
}

type Thumbs struct {
	Prompt string
}

func (FinishConversation) Name() Name   { return NameFinishConversation }
func (Redirect) Name() Name             { return NameRedirect }
func (TourStart) Name() Name            { return NameTourStart }
func (FeedbackModal) Name() Name        { return NameFeedbackModal }
func (ManageOrg2FA) Name() Name         { return NameManageOrg2FA }
func (CreateServiceAccount) Name() Name { return NameCreateServiceAccount }
func (Thumbs) Name() Name               { return NameThumbs }

func (FinishConversation) isCommand()   {}
func (Redirect) isCommand()             {}
func (TourStart) isCommand()            {}
func (FeedbackModal) isCommand()        {}
func (ManageOrg2FA) isCommand()         {}
func (CreateServiceAccount) isCommand() {}
func (Thumbs) isCommand()               {}

// Parse narrows a wire command into a typed Command. Unknown command types report false.
// Argument validation is left to the handlers so that a bad argument is logged, not dropped.
func Parse(spec timeline.CommandSpec) (Command, bool) {
	arg := func(i int) string {
		if i < len(spec.Args) {
			return strings.TrimSpace(spec.Args[i])
		}
		return ""
	}
	switch Name(strings.TrimSpace(spec.Type)) {
	case NameFinishConversation:
		return FinishConversation{}, true
	case NameRedirect:
		return Redirect{URL: arg(0)}, true
	case NameTourStart:
		return TourStart{Tour: arg(0)}, true
	case NameFeedbackModal:
		open := true
		if a := arg(0); a != "" {
			open = parseBool(a, true)
		}
		return FeedbackModal{Open: open}, true
	case NameManageOrg2FA:
		return ManageOrg2FA{Enable: parseBool(arg(0), true)}, true
	case NameCreateServiceAccount:
		return CreateServiceAccount{AccountName: arg(0), Description: arg(1), Environment: arg(2)}, true
	case NameThumbs:
		return Thumbs{Prompt: arg(0)}, true
	default:
		return nil, false
	}
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "enable", "enabled", "on", "open":
		return true
	case "disable", "disabled", "off", "close", "closed":
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return def
}
