package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazedcmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const historyTimeFormat = "2006-01-02 15:04:05"

func newHistoryCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded conversations",
	}

	listCmd, err := NewHistoryListCommand(app)
	cobra.CheckErr(err)
	showCmd, err := NewHistoryShowCommand(app)
	cobra.CheckErr(err)

	cobraListCmd, err := cli.BuildCobraCommand(listCmd)
	cobra.CheckErr(err)
	cobraShowCmd, err := cli.BuildCobraCommand(showCmd)
	cobra.CheckErr(err)

	cmd.AddCommand(cobraListCmd, cobraShowCmd)

	var yes bool
	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Forget a recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(cmd, yes, "Delete the recorded transcript of session "+args[0]+"? [y/n]")
			if err != nil || !ok {
				return err
			}
			rt, err := openRuntime(cmd.Context(), app.Settings, false)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return rt.transcripts.DeleteSession(cmd.Context(), args[0])
		},
	}
	deleteCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.AddCommand(deleteCmd)
	return cmd
}

type HistoryListCommand struct {
	*glazedcmds.CommandDescription
	app *App
}

type HistoryListSettings struct {
	Limit int `glazed:"limit"`
}

func NewHistoryListCommand(app *App) (*HistoryListCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := glazedcmds.NewCommandDescription(
		"list",
		glazedcmds.WithShort("List recorded sessions, most recent first"),
		glazedcmds.WithLong("List recorded sessions with their title, turn count and last activity. The active session is flagged."),
		glazedcmds.WithFlags(
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(20),
				fields.WithHelp("Maximum number of sessions to list (0 = no limit)"),
			),
		),
		glazedcmds.WithSections(glazedSection),
	)
	return &HistoryListCommand{CommandDescription: desc, app: app}, nil
}

func (c *HistoryListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &HistoryListSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}

	rt, err := openRuntime(ctx, c.app.Settings, false)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	recs, err := rt.transcripts.ListSessions(ctx, s.Limit)
	if err != nil {
		return err
	}
	active := ""
	if sess := rt.client.Snapshot().Session; sess != nil {
		active = sess.ID
	}
	for _, r := range recs {
		row := types.NewRow(
			types.MRP("active", r.SessionID == active),
			types.MRP("session_id", r.SessionID),
			types.MRP("turns", r.Turns),
			types.MRP("last_activity", time.UnixMilli(r.LastActivityMs).Format(historyTimeFormat)),
			types.MRP("title", r.Title),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ glazedcmds.GlazeCommand = &HistoryListCommand{}

type HistoryShowCommand struct {
	*glazedcmds.CommandDescription
	app *App
}

type HistoryShowSettings struct {
	SessionID string `glazed:"session-id"`
}

func NewHistoryShowCommand(app *App) (*HistoryShowCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := glazedcmds.NewCommandDescription(
		"show",
		glazedcmds.WithShort("Print the messages of a recorded session"),
		glazedcmds.WithArguments(
			fields.New(
				"session-id",
				fields.TypeString,
				fields.WithRequired(true),
				fields.WithHelp("Session to print"),
			),
		),
		glazedcmds.WithSections(glazedSection),
	)
	return &HistoryShowCommand{CommandDescription: desc, app: app}, nil
}

func (c *HistoryShowCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &HistoryShowSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}

	rt, err := openRuntime(ctx, c.app.Settings, false)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	msgs, err := rt.transcripts.LoadMessages(ctx, s.SessionID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return errors.Errorf("no recorded messages for session %s", s.SessionID)
	}
	for _, m := range msgs {
		row := types.NewRow(
			types.MRP("time", m.Timestamp.Format(historyTimeFormat)),
			types.MRP("role", string(m.Role)),
			types.MRP("content", m.Content),
			types.MRP("sources", len(m.Sources)),
			types.MRP("reasoning", m.ReasoningSummary),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ glazedcmds.GlazeCommand = &HistoryShowCommand{}
