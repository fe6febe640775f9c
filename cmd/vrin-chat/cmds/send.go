package cmds

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/vrin-ai/vrin-chat/pkg/ui"
)

func newSendCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "send TEXT...",
		Short: "Send one message and print the reply; the session carries over between invocations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.Settings
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, s, s.Redis.Enabled)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			rt.client.AddObserver(ui.NewStreamPrinter(cmd.OutOrStdout(), rt.client.Snapshot()))
			if err := rt.client.SendMessage(ctx, strings.Join(args, " "), s.SendOptions()); err != nil {
				return err
			}
			return ctx.Err()
		},
	}
}
