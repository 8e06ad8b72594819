package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const timeFormat = "2006-01-02 15:04:05"

// Options selects the log level and destination.
type Options struct {
	Level string
	// File, when set, receives logs in append mode instead of stderr.
	File string
}

// New builds the process logger. The returned close func releases the log
// file, if one was opened.
func New(opts Options) (zerolog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	if strings.TrimSpace(opts.File) == "" {
		writer := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: timeFormat,
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		}
		return newLogger(writer, level), func() error { return nil }, nil
	}

	f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
	}
	writer := zerolog.ConsoleWriter{
		Out:        f,
		TimeFormat: timeFormat,
		NoColor:    true,
	}
	return newLogger(writer, level), f.Close, nil
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Int("pid", os.Getpid()).Logger()
}

// ParseLevel maps debug|info|warn|error onto zerolog levels. Empty means info.
func ParseLevel(value string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", value)
	}
	return level, nil
}
