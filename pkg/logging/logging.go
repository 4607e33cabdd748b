// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Init installs the global logger. The text format only uses the colored console writer when
// out is a terminal.
func Init(s Settings, out *os.File) error {
	level := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return errors.Wrapf(err, "logging: invalid level %q", s.Level)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w, err := writer(s.Format, out)
	if err != nil {
		return err
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

func writer(format string, out *os.File) (io.Writer, error) {
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		tty := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
		return zerolog.ConsoleWriter{Out: out, NoColor: !tty, TimeFormat: time.Kitchen}, nil
	case FormatJSON:
		return out, nil
	default:
		return nil, errors.Errorf("logging: unknown format %q", format)
	}
}
