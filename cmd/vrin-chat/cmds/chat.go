package cmds

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vrin-ai/vrin-chat/pkg/ui"
)

func newChatCommand(app *App) *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:         "chat",
		Short:       "Interactive chat (line mode when stdout is not a terminal)",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationOwnsTerminal: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.Settings
			ctx := cmd.Context()
			withBus := s.RelayAddr != "" || s.Redis.Enabled

			rt, err := openRuntime(ctx, s, withBus)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if resume != "" {
				msgs, err := rt.transcripts.LoadMessages(ctx, resume)
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					return errors.Errorf("no recorded messages for session %s", resume)
				}
				rt.client.LoadMessages(ctx, resume, msgs)
				log.Info().Str("component", "cli").Str("session_id", resume).Int("messages", len(msgs)).Msg("resumed session")
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			eg, gctx := errgroup.WithContext(runCtx)

			if s.RelayAddr != "" {
				if err := serveRelay(gctx, eg, rt.bus, s.RelayAddr, rt.registry); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if isTerminal(out) {
				m := ui.New(ui.Config{Session: rt.client, SendOptions: s.SendOptions(), Context: gctx})
				p := tea.NewProgram(m, tea.WithContext(gctx), tea.WithAltScreen(), tea.WithMouseCellMotion())
				rt.client.AddObserver(ui.Forward(p))
				eg.Go(func() error {
					defer cancel()
					if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
						return errors.Wrap(err, "run chat ui")
					}
					return nil
				})
			} else {
				rt.client.AddObserver(ui.NewStreamPrinter(out, rt.client.Snapshot()).WithErrors(cmd.ErrOrStderr()))
				repl := &ui.REPL{
					Session:     rt.client,
					SendOptions: s.SendOptions(),
					In:          cmd.InOrStdin(),
					Out:         out,
				}
				eg.Go(func() error {
					defer cancel()
					return repl.Run(gctx)
				})
			}
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "Resume a recorded session by id")
	return cmd
}
