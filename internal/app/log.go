package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// LogFileName is the log file inside log_dir.
const LogFileName = "drivemirror.log"

// fileHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type fileHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	opID  string
	level slog.Leveler
	attrs []slog.Attr
}

func newFileHandler(w io.Writer, opID string, level slog.Leveler) *fileHandler {
	return &fileHandler{mu: &sync.Mutex{}, w: w, opID: opID, level: level}
}

func (h *fileHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *fileHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level, h.opID, r.Message); err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})
	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *fileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &c
}

func (h *fileHandler) WithGroup(string) slog.Handler { return h }

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// newConsoleHandler writes human-readable records to w, coloured when
// color is set.
func newConsoleHandler(w io.Writer, level slog.Leveler, color bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !color,
	})
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parsing log level: %w", err)
	}
	return l, nil
}

// newLogger creates a logger writing every record at or above level to
// logDir/drivemirror.log, and warnings and errors to stderr. It returns the
// open log file for cleanup.
func newLogger(logDir, opID, level string) (*slog.Logger, *os.File, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	consoleLevel := max(lvl, slog.LevelWarn)
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	handler := fanoutHandler{
		newFileHandler(f, opID, lvl),
		newConsoleHandler(colorable.NewColorable(os.Stderr), consoleLevel, color),
	}
	return slog.New(handler), f, nil
}
