package timeline

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Envelope is the wire form of a Message used by event frames.
type Envelope struct {
	Origin  Origin          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

func Encode(m Message) (Envelope, error) {
	if m == nil {
		return Envelope{}, errors.New("timeline: encode nil message")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "timeline: encode message")
	}
	return Envelope{Origin: m.Origin(), Message: b}, nil
}

func Decode(env Envelope) (Message, error) {
	var (
		m   Message
		err error
	)
	switch env.Origin {
	case OriginUser:
		var v UserMessage
		err = json.Unmarshal(env.Message, &v)
		m = v
	case OriginAssistant:
		var v AssistantMessage
		err = json.Unmarshal(env.Message, &v)
		m = v
	case OriginSystem:
		var v SystemMessage
		err = json.Unmarshal(env.Message, &v)
		m = v
	case OriginBanner:
		var v BannerMessage
		err = json.Unmarshal(env.Message, &v)
		m = v
	case OriginFeedbackPrompt:
		var v FeedbackPromptMessage
		err = json.Unmarshal(env.Message, &v)
		m = v
	default:
		return nil, errors.Errorf("timeline: unknown origin %q", env.Origin)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "timeline: decode %s message", env.Origin)
	}
	return m, nil
}
