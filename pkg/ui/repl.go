package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

// REPL is the line-oriented surface used when stdout is not a terminal.
// Lines starting with "/" are commands; everything else is sent.
type REPL struct {
	Session     Session
	SendOptions chatsession.SendOptions
	In          io.Reader
	Out         io.Writer
}

const replHelp = "commands: /new start a session, /end end the session, /clear clear the error, /quit exit"

// Run reads lines until EOF, /quit or ctx is done. Send failures are
// reported through the session state and do not stop the loop.
func (r *REPL) Run(ctx context.Context) error {
	sc := bufio.NewScanner(r.In)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, _ = fmt.Fprint(r.Out, "> ")
		if !sc.Scan() {
			_, _ = fmt.Fprintln(r.Out)
			return errors.Wrap(sc.Err(), "read input")
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			_, _ = fmt.Fprintln(r.Out, replHelp)
		case "/new":
			if err := r.Session.StartNewSession(ctx); err == nil {
				if s := r.Session.Snapshot().Session; s != nil {
					_, _ = fmt.Fprintf(r.Out, "session %s started\n", s.ID)
				}
			}
		case "/end":
			r.Session.EndSession(ctx)
			_, _ = fmt.Fprintln(r.Out, "session ended")
		case "/clear":
			r.Session.ClearError()
		default:
			if strings.HasPrefix(line, "/") {
				_, _ = fmt.Fprintln(r.Out, replHelp)
				continue
			}
			if err := r.Session.SendMessage(ctx, line, r.SendOptions); errors.Is(err, chatsession.ErrMissingAPIKey) {
				return err
			}
		}
	}
}
