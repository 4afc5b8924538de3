package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	Level string
	// JSON writes structured lines instead of the console format.
	JSON bool
	// File, when set, receives an uncoloured copy of every line.
	File string
	Out  io.Writer
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds the process logger. The returned closer releases the log file
// and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var primary io.Writer = out
	if !opts.JSON {
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{primary}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		closer = f
		if opts.JSON {
			writers = append(writers, f)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: true})
		}
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
