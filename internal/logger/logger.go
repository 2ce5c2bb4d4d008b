package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/clearbg/internal/env"
)

// Options configures the logger built by New.
type Options struct {
	level      slog.Leveler
	console    io.Writer
	logFile    string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	logToFile  bool
}

// Option mutates Options.
type Option func(*Options)

// WithLevel sets the minimum level. Passing a *slog.LevelVar allows changing it at runtime.
func WithLevel(level slog.Leveler) Option {
	return func(o *Options) {
		o.level = level
	}
}

// WithLogToFile enables the rotating file sink.
func WithLogToFile(enabled bool) Option {
	return func(o *Options) {
		o.logToFile = enabled
	}
}

// WithLogFile sets the path of the rotating log file.
func WithLogFile(path string) Option {
	return func(o *Options) {
		o.logFile = path
	}
}

// WithRotation sets size, backup count and age limits of the log file.
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *Options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// WithConsole overrides the console writer (stderr in development, stdout in production).
func WithConsole(w io.Writer) Option {
	return func(o *Options) {
		o.console = w
	}
}

// New creates a logger for the given environment.
// Development logs are colored text, production logs are JSON.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := &Options{
		level:      slog.LevelInfo,
		logFile:    "logs/clearbg.log",
		maxSizeMB:  50,
		maxBackups: 5,
		maxAgeDays: 14,
	}
	for _, opt := range opts {
		opt(o)
	}

	var console slog.Handler
	if environment.IsProduction() {
		w := o.console
		if w == nil {
			w = os.Stdout
		}
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: o.level})
	} else {
		w := o.console
		if w == nil {
			w = os.Stderr
		}
		console = tint.NewHandler(w, &tint.Options{
			Level:      o.level,
			TimeFormat: time.DateTime,
		})
	}

	if !o.logToFile || o.logFile == "" {
		return slog.New(console)
	}

	file := &lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		MaxAge:     o.maxAgeDays,
		Compress:   true,
	}

	return slog.New(fanout{
		console,
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: o.level}),
	})
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("unknown log level: " + s)
	}
}

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
