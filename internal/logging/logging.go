// Package logging builds the process logger: the log/slog API rendered by a
// charmbracelet/log handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	// File appends logs to a file instead of stderr when set.
	File string
}

// New returns a slog.Logger backed by charmbracelet/log. The returned closer
// releases the log file, if one was opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	return slog.New(NewHandler(w, level, opts.Format)), closer, nil
}

// NewHandler builds a charmbracelet/log handler writing to w.
func NewHandler(w io.Writer, level log.Level, format string) *log.Logger {
	handler := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	switch strings.ToLower(format) {
	case "json":
		handler.SetFormatter(log.JSONFormatter)
	case "logfmt":
		handler.SetFormatter(log.LogfmtFormatter)
	}
	return handler
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(value string) (log.Level, error) {
	if strings.TrimSpace(value) == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q", value)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
