package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML (API key redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := app.Settings.Redacted().YAML()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if app.Settings.ConfigFile != "" {
				_, _ = fmt.Fprintf(out, "# config file: %s\n", app.Settings.ConfigFile)
			}
			_, err = out.Write(b)
			return err
		},
	})
	return cmd
}
