package relay

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/vrin-ai/vrin-chat/pkg/eventbus"
)

// StreamCoordinator owns the subscription that feeds frames to the relay and
// dispatches them in order. Frames older than the last one seen are dropped;
// a sequence restarting at 1 means the publisher restarted.
type StreamCoordinator struct {
	topic      string
	subscriber message.Subscriber
	onFrame    func(eventbus.Frame, []byte)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	lastSeq uint64
}

func NewStreamCoordinator(topic string, subscriber message.Subscriber, onFrame func(eventbus.Frame, []byte)) *StreamCoordinator {
	if topic == "" {
		topic = eventbus.DefaultTopic
	}
	return &StreamCoordinator{
		topic:      topic,
		subscriber: subscriber,
		onFrame:    onFrame,
	}
}

func (sc *StreamCoordinator) Start(ctx context.Context) error {
	if sc == nil || sc.subscriber == nil {
		return nil
	}
	sc.mu.Lock()
	if sc.running {
		sc.mu.Unlock()
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel
	sc.running = true
	sc.mu.Unlock()

	ch, err := sc.subscriber.Subscribe(runCtx, sc.topic)
	if err != nil {
		log.Error().Err(err).Str("component", "relay").Str("topic", sc.topic).Msg("stream coordinator: subscribe failed")
		sc.Stop()
		return err
	}
	go sc.consume(ch)
	return nil
}

func (sc *StreamCoordinator) Stop() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.cancel = nil
	sc.running = false
	sc.mu.Unlock()
}

func (sc *StreamCoordinator) Close() {
	if sc == nil {
		return
	}
	sc.Stop()
	if sc.subscriber != nil {
		if err := sc.subscriber.Close(); err != nil {
			log.Warn().Err(err).Str("component", "relay").Str("topic", sc.topic).Msg("stream coordinator: subscriber close failed")
		}
	}
}

func (sc *StreamCoordinator) IsRunning() bool {
	if sc == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.running
}

func (sc *StreamCoordinator) consume(ch <-chan *message.Message) {
	log.Info().Str("component", "relay").Str("topic", sc.topic).Msg("stream coordinator: started")
	for msg := range ch {
		frame, err := eventbus.DecodeFrame(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "relay").Str("topic", sc.topic).Msg("stream coordinator: failed to decode frame")
			msg.Ack()
			continue
		}
		if sc.accept(frame.Seq) && sc.onFrame != nil {
			sc.onFrame(frame, msg.Payload)
		}
		msg.Ack()
	}
	log.Info().Str("component", "relay").Str("topic", sc.topic).Msg("stream coordinator: stopped")
	sc.mu.Lock()
	sc.running = false
	sc.cancel = nil
	sc.mu.Unlock()
}

func (sc *StreamCoordinator) accept(seq uint64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if seq == 0 {
		return true
	}
	if seq <= sc.lastSeq && seq != 1 {
		return false
	}
	sc.lastSeq = seq
	return true
}
