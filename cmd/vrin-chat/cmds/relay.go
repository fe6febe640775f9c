package cmds

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vrin-ai/vrin-chat/pkg/config"
	"github.com/vrin-ai/vrin-chat/pkg/eventbus"
	"github.com/vrin-ai/vrin-chat/pkg/relay"
)

func newRelayCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Serve a read-only websocket mirror of chat state published on Redis Streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.Settings
			if !s.Redis.Enabled {
				log.Warn().Str("component", "relay").Msg("redis disabled: only frames published by this process will be relayed")
			}
			addr := s.RelayAddr
			if addr == "" {
				addr = config.DefaultRelayAddr
			}

			bus, err := eventbus.New(s.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			eg, gctx := errgroup.WithContext(cmd.Context())
			if err := serveRelay(gctx, eg, bus, addr, reg); err != nil {
				return err
			}
			return eg.Wait()
		},
	}
}

// serveRelay starts the relay on addr and stops it when ctx is done.
func serveRelay(ctx context.Context, eg *errgroup.Group, bus *eventbus.Bus, addr string, reg *prometheus.Registry) error {
	if bus == nil {
		return errors.New("relay requires an event bus")
	}
	if err := bus.EnsureGroupAtTail(ctx); err != nil {
		return err
	}
	srv := relay.NewServer(bus.Subscriber, bus.Topic(), relay.WithRegistry(reg))
	if err := srv.Start(ctx); err != nil {
		return errors.Wrap(err, "start relay")
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Str("component", "relay").Msg("shutting down relay")
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "relay shutdown")
		}
		return nil
	})
	eg.Go(func() error {
		log.Info().Str("component", "relay").Str("addr", addr).Msg("relay listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "relay listen")
		}
		return nil
	})
	return nil
}
