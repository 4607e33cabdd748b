package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/convocore/pkg/timeline"
)

// Frame is the JSON payload of one timeline event.
type Frame struct {
	Type        string             `json:"type"`
	WidgetID    string             `json:"widget_id"`
	Version     uint64             `json:"version"`
	MessageID   string             `json:"message_id,omitempty"`
	Message     *timeline.Envelope `json:"message,omitempty"`
	SnapshotLen int                `json:"snapshot_len"`
}

// Topic is the topic timeline events of widgetID are published on.
func Topic(widgetID string) string {
	return "timeline." + widgetID
}

// FrameFromChange converts a committed change. For a replace MessageID is the id that was
// replaced; for a remove it is the removed id and Message is empty.
func FrameFromChange(widgetID string, ch timeline.Change) (Frame, error) {
	f := Frame{
		Type:        "timeline." + string(ch.Op),
		WidgetID:    widgetID,
		Version:     ch.Version,
		SnapshotLen: len(ch.Snapshot),
	}
	switch ch.Op {
	case timeline.OpAppend:
		f.MessageID = ch.Message.MessageID()
	case timeline.OpReplace, timeline.OpRemove:
		f.MessageID = ch.Previous.MessageID()
	}
	if ch.Message != nil {
		env, err := timeline.Encode(ch.Message)
		if err != nil {
			return Frame{}, err
		}
		f.Message = &env
	}
	return f, nil
}

// TimelinePublisher publishes every change of a store as a Frame.
type TimelinePublisher struct {
	pub      message.Publisher
	widgetID string
	logger   zerolog.Logger
}

func NewTimelinePublisher(pub message.Publisher, widgetID string) *TimelinePublisher {
	return &TimelinePublisher{
		pub:      pub,
		widgetID: widgetID,
		logger:   log.With().Str("component", "eventbus").Str("widget_id", widgetID).Logger(),
	}
}

// Attach subscribes to store. The returned function detaches.
func (p *TimelinePublisher) Attach(store *timeline.Store) func() {
	return store.Subscribe(func(ch timeline.Change) {
		if err := p.Publish(ch); err != nil {
			p.logger.Warn().Err(err).Str("op", string(ch.Op)).Msg("timeline event not published")
		}
	})
}

func (p *TimelinePublisher) Publish(ch timeline.Change) error {
	f, err := FrameFromChange(p.widgetID, ch)
	if err != nil {
		return err
	}
	return PublishJSON(p.pub, Topic(p.widgetID), f)
}

// PublishJSON marshals v and publishes it on topic.
func PublishJSON(pub message.Publisher, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "eventbus: encode frame")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	return errors.Wrapf(pub.Publish(topic, msg), "eventbus: publish to %s", topic)
}

// Forward hands the payload of each message to fn until ctx is done or msgs closes. Messages
// are acked after fn returns.
func Forward(ctx context.Context, msgs <-chan *message.Message, fn func(payload []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			fn(msg.Payload)
			msg.Ack()
		}
	}
}
