package cmds

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/vrin-ai/vrin-chat/pkg/chatapi"
	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
	"github.com/vrin-ai/vrin-chat/pkg/config"
	"github.com/vrin-ai/vrin-chat/pkg/eventbus"
	"github.com/vrin-ai/vrin-chat/pkg/flush"
	"github.com/vrin-ai/vrin-chat/pkg/kvstore"
	"github.com/vrin-ai/vrin-chat/pkg/transcript"
)

// runtime is everything a command needs to drive a chat session.
type runtime struct {
	settings    *config.Settings
	store       kvstore.Store
	transcripts transcript.Store
	scheduler   *flush.TickerScheduler
	registry    *prometheus.Registry
	bus         *eventbus.Bus
	client      *chatsession.Client
}

// openRuntime wires stores, transport and the session client, then restores
// the persisted session. withBus publishes every state change on the event
// bus.
func openRuntime(ctx context.Context, s *config.Settings, withBus bool) (*runtime, error) {
	api, err := chatapi.NewClient(s.BaseURL)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		settings:  s,
		scheduler: flush.NewTickerScheduler(s.FlushInterval),
		registry:  prometheus.NewRegistry(),
	}

	rt.store, err = kvstore.Open(s.SessionStore)
	if err != nil {
		return nil, errors.Wrap(err, "open session store")
	}
	rt.transcripts, err = transcript.Open(s.TranscriptDB)
	if err != nil {
		_ = rt.Close()
		return nil, errors.Wrap(err, "open transcript store")
	}

	opts := []chatsession.Option{
		chatsession.WithStore(rt.store),
		chatsession.WithScheduler(rt.scheduler),
		chatsession.WithAPIKey(s.APIKey),
		chatsession.WithSessionKey(s.SessionKey),
		chatsession.WithIncludeSources(s.IncludeSources),
		chatsession.WithRecorder(rt.transcripts),
		chatsession.WithMetrics(chatsession.NewMetrics(rt.registry)),
	}
	if withBus {
		rt.bus, err = eventbus.New(s.Redis)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		opts = append(opts, chatsession.WithObserver(eventbus.NewForwarder(rt.bus.Publisher, rt.bus.Topic())))
	}
	rt.client = chatsession.New(api, opts...)

	if err := rt.client.Restore(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt.client != nil {
		rt.client.CancelStreaming()
	}
	if rt.scheduler != nil {
		rt.scheduler.CancelFlush()
	}
	var first error
	keep := func(what string, err error) {
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("component", "cli").Msg("close " + what)
		if first == nil {
			first = errors.Wrapf(err, "close %s", what)
		}
	}
	if rt.bus != nil {
		keep("event bus", rt.bus.Close())
	}
	if rt.transcripts != nil {
		keep("transcript store", rt.transcripts.Close())
	}
	if rt.store != nil {
		keep("session store", rt.store.Close())
	}
	return first
}
