package feedback

import (
	"github.com/atotto/clipboard"
	"github.com/pkg/errors"

	"github.com/go-go-golems/convocore/pkg/timeline"
)

type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

// CopyText copies the text of an assistant message. It is independent of the feedback state.
func CopyText(cb Clipboard, m timeline.Message) error {
	am, ok := m.(timeline.AssistantMessage)
	if !ok {
		return errors.New("copy: only assistant messages can be copied")
	}
	if am.IsLoading || am.Text == "" {
		return errors.New("copy: message has no text")
	}
	if cb == nil {
		cb = SystemClipboard{}
	}
	return errors.Wrap(cb.WriteAll(am.Text), "copy: write clipboard")
}
