package eventbus

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

const FrameTypeState = "state"

// Frame is the unit published on the bus and relayed to viewers.
type Frame struct {
	Type  string             `json:"type"`
	Seq   uint64             `json:"seq"`
	AtMs  int64              `json:"at_ms"`
	State *chatsession.State `json:"state,omitempty"`
}

func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	if f.Type == "" {
		return Frame{}, errors.New("decode frame: missing type")
	}
	return f, nil
}

// Forwarder publishes every chat state change as a Frame.
type Forwarder struct {
	publisher message.Publisher
	topic     string
	seq       atomic.Uint64
}

var _ chatsession.Observer = &Forwarder{}

func NewForwarder(publisher message.Publisher, topic string) *Forwarder {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Forwarder{publisher: publisher, topic: topic}
}

func (f *Forwarder) OnStateChange(st chatsession.State) {
	if f == nil || f.publisher == nil {
		return
	}
	frame := Frame{
		Type:  FrameTypeState,
		Seq:   f.seq.Add(1),
		AtMs:  time.Now().UnixMilli(),
		State: &st,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Msg("forwarder: marshal frame failed")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := f.publisher.Publish(f.topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Str("topic", f.topic).Msg("forwarder: publish failed")
	}
}
