// Package cmds holds the cobra commands of the vrin-chat binary.
package cmds

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vrin-ai/vrin-chat/pkg/config"
	"github.com/vrin-ai/vrin-chat/pkg/logging"
)

// annotationOwnsTerminal marks commands that draw on the terminal; their
// logs are discarded unless a log file is configured.
const annotationOwnsTerminal = "owns-terminal"

// App carries the resolved settings from the root command to subcommands.
type App struct {
	Settings  *config.Settings
	logCloser io.Closer
}

func NewRootCommand() *cobra.Command {
	app := &App{}
	root := &cobra.Command{
		Use:           config.AppName,
		Short:         "Chat with VRIN from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newChatCommand(app),
		newSendCommand(app),
		newSessionCommand(app),
		newHistoryCommand(app),
		newRelayCommand(app),
		newConfigCommand(app),
	)
	return root
}

func (a *App) init(cmd *cobra.Command) error {
	s, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	a.Settings = s

	if _, ok := cmd.Annotations[annotationOwnsTerminal]; ok && s.Logging.File == "" && isTerminal(cmd.OutOrStdout()) {
		logging.Discard()
		return nil
	}
	closer, err := logging.Init(s.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logCloser = closer
	log.Debug().Str("component", "cli").Str("config_file", s.ConfigFile).Str("command", cmd.CommandPath()).Msg("settings loaded")
	return nil
}

func (a *App) close() error {
	if a.logCloser == nil {
		return nil
	}
	err := a.logCloser.Close()
	a.logCloser = nil
	return err
}

// isTerminal reports whether stream, typically a cobra in/out stream, is a tty.
func isTerminal(stream any) bool {
	f, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
