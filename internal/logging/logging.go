// Package logging builds the process slog handler: colorized output for
// terminals, JSON everywhere else.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is auto, json or pretty. Auto picks pretty when Out is a terminal.
	Format string
	// Out defaults to os.Stdout.
	Out io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a handler for opts.
func New(opts Options) (slog.Handler, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	switch strings.ToLower(opts.Format) {
	case "", "auto":
		if isTerminal(out) {
			return prettyHandler(out, level, true), nil
		}
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}), nil
	case "pretty":
		return prettyHandler(out, level, !isTerminal(out)), nil
	case "json":
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

// Setup installs the handler built from opts as the slog default.
func Setup(opts Options) error {
	h, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func prettyHandler(out io.Writer, level slog.Level, noColor bool) slog.Handler {
	return tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
