package cmds

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"
)

// confirm asks before a destructive operation. It only prompts when stdin
// is a terminal; scripted runs proceed as if --yes was given.
func confirm(cmd *cobra.Command, yes bool, query string) (bool, error) {
	if yes || !isTerminal(cmd.InOrStdin()) {
		return true, nil
	}
	return ask(cmd.InOrStdin(), cmd.ErrOrStderr(), query)
}

func ask(r io.Reader, w io.Writer, query string) (bool, error) {
	ui := &input.UI{
		Writer: w,
		Reader: r,
	}
	answer, err := ui.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "yes", "n", "no":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "reading confirmation")
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
