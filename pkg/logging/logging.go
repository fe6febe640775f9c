// Package logging configures the global zerolog logger from settings shared
// by every vrin-chat command.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	Level      string `mapstructure:"log-level" yaml:"log-level"`
	Format     string `mapstructure:"log-format" yaml:"log-format"`
	File       string `mapstructure:"log-file" yaml:"log-file"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`
}

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Init replaces log.Logger according to s. The returned closer releases the
// log file, if any; it is never nil.
func Init(s Settings, stderr io.Writer) (io.Closer, error) {
	lvl := zerolog.InfoLevel
	if s.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return nopCloser{}, errors.Wrapf(err, "invalid log level %q", s.Level)
		}
		lvl = l
	}
	zerolog.SetGlobalLevel(lvl)

	var (
		out    io.Writer = stderr
		closer io.Closer = nopCloser{}
	)
	if out == nil {
		out = os.Stderr
	}
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), 0o755); err != nil {
			return nopCloser{}, errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nopCloser{}, errors.Wrap(err, "open log file")
		}
		out, closer = f, f
	}

	switch strings.ToLower(s.Format) {
	case "", FormatConsole:
		cw := zerolog.NewConsoleWriter()
		cw.Out = out
		cw.NoColor = s.File != ""
		out = cw
	case FormatJSON:
	default:
		_ = closer.Close()
		return nopCloser{}, errors.Errorf("invalid log format %q", s.Format)
	}

	ctx := zerolog.New(out).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return closer, nil
}

// Discard silences logging entirely, for surfaces that own the terminal and
// were given no log file.
func Discard() {
	log.Logger = zerolog.Nop()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
