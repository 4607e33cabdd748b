package cmds

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/convocore/pkg/quota"
	"github.com/go-go-golems/convocore/pkg/timeline"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	systemStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	bannerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	dangerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	optionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// kindText holds the fixed template of every system and banner kind. %s verbs take the
// message args in order.
var kindText = map[timeline.Kind]string{
	timeline.KindFinishConversationMessage:  "The assistant ended this conversation.",
	timeline.KindFinishConversationBanner:   "Conversation finished. Use /new to start over.",
	timeline.KindEmptyResponse:              "The assistant returned no answer.",
	timeline.KindRequestError:               "Something went wrong while contacting the assistant.",
	timeline.KindRedirectMessage:            "Opening %s",
	timeline.KindCreateServiceAccount:       "Service account %s created (%s). Client id %s, secret %s",
	timeline.KindCreateServiceAccountFailed: "Could not create service account %s (%s).",
	timeline.KindToggleOrg2FA:               "Organization two-factor authentication set to %s.",
	timeline.KindToggleOrg2FAFailed:         "Could not set organization two-factor authentication to %s.",
	timeline.KindMessageTooLong:             "Message is too long; the limit is %s characters.",
}

func kindLine(kind timeline.Kind, args []string) string {
	tmpl, ok := kindText[kind]
	if !ok {
		return string(kind)
	}
	n := strings.Count(tmpl, "%s")
	vals := make([]any, n)
	for i := range vals {
		if i < len(args) {
			vals[i] = args[i]
		} else {
			vals[i] = ""
		}
	}
	return fmt.Sprintf(tmpl, vals...)
}

// renderMessage returns the terminal lines for m. Loading placeholders render as an ellipsis.
func renderMessage(m timeline.Message, margin int) string {
	switch v := m.(type) {
	case timeline.UserMessage:
		return userStyle.Render("you> ") + v.Text
	case timeline.AssistantMessage:
		if v.IsLoading {
			return assistantStyle.Render("assistant> ...")
		}
		var b strings.Builder
		b.WriteString(assistantStyle.Render("assistant> " + v.Text))
		for i, o := range v.Options {
			fmt.Fprintf(&b, "\n  %s", optionStyle.Render(fmt.Sprintf("[%d] %s", i+1, o.Label)))
		}
		if a := quota.ForMessage(v, margin); a.Active() {
			b.WriteString("\n" + renderAlert(a))
		}
		return b.String()
	case timeline.SystemMessage:
		return systemStyle.Render("-- " + kindLine(v.Kind, v.Args))
	case timeline.BannerMessage:
		return bannerStyle.Render("!! " + kindLine(v.Kind, v.Args))
	case timeline.FeedbackPromptMessage:
		prompt := v.Prompt
		if prompt == "" {
			prompt = "Was this conversation helpful?"
		}
		return optionStyle.Render(prompt + " (/thumbs up|down)")
	default:
		return ""
	}
}

func renderAlert(a quota.Alert) string {
	switch a.Level {
	case quota.LevelDanger:
		return dangerStyle.Render(fmt.Sprintf("quota reached (%d/%d): start a new conversation with /new", a.Used, a.Limit))
	case quota.LevelWarning:
		return bannerStyle.Render(fmt.Sprintf("quota almost reached (%d/%d)", a.Used, a.Limit))
	default:
		return ""
	}
}
