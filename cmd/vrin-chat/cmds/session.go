package cmds

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the active conversation session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start a new session, replacing the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), app.Settings, app.Settings.Redis.Enabled)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := rt.client.StartNewSession(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rt.client.Snapshot().Session.ID)
			return err
		},
	})

	var yes bool
	end := &cobra.Command{
		Use:   "end",
		Short: "End the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), app.Settings, app.Settings.Redis.Enabled)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			sess := rt.client.Snapshot().Session
			if sess == nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no active session")
				return err
			}
			ok, err := confirm(cmd, yes, "End session "+sess.ID+"? [y/n]")
			if err != nil || !ok {
				return err
			}
			rt.client.EndSession(cmd.Context())
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ended %s\n", sess.ID)
			return err
		},
	}
	end.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.AddCommand(end)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), app.Settings, false)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			out := cmd.OutOrStdout()
			sess := rt.client.Snapshot().Session
			if sess == nil {
				_, err = fmt.Fprintln(out, "no active session")
				return err
			}
			_, _ = fmt.Fprintf(out, "session: %s\n", sess.ID)
			rec, ok, err := rt.transcripts.GetSession(cmd.Context(), sess.ID)
			if err != nil {
				return err
			}
			if ok {
				_, _ = fmt.Fprintf(out, "title:   %s\n", rec.Title)
				_, _ = fmt.Fprintf(out, "turns:   %d\n", rec.Turns)
				_, _ = fmt.Fprintf(out, "active:  %s\n", time.UnixMilli(rec.LastActivityMs).Format(time.RFC3339))
			}
			return nil
		},
	})
	return cmd
}
