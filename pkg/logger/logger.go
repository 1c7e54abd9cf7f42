// Package logger builds the application's slog logger and carries it
// through request contexts. It also provides attribute helpers for the
// identifiers that show up in most log lines.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    string // json or text
	AddSource bool

	// Attached to every record.
	Service string
	Env     string
}

// New creates a logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		AddSource:   opts.AddSource,
		ReplaceAttr: replaceAttr,
	}

	var h slog.Handler
	if opts.Format == "text" {
		h = slog.NewTextHandler(opts.Output, handlerOpts)
	} else {
		h = slog.NewJSONHandler(opts.Output, handlerOpts)
	}

	l := slog.New(h)
	if opts.Service != "" {
		l = l.With(slog.String("service", opts.Service))
	}
	if opts.Env != "" {
		l = l.With(slog.String("env", opts.Env))
	}
	return l
}

// replaceAttr writes timestamps in UTC and durations as strings.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindTime:
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
		}
	case slog.KindDuration:
		a.Value = slog.StringValue(a.Value.Duration().String())
	}
	return a
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// RequestIDKey is a common field key for request tracing.
const RequestIDKey = "request_id"

// RequestID creates a request id attribute.
func RequestID(id string) slog.Attr { return slog.String(RequestIDKey, id) }

// Err creates an error attribute; nil errors are logged as empty.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Academy identifiers.
func StudentID(id string) slog.Attr    { return slog.String("student_id", id) }
func LessonID(id string) slog.Attr     { return slog.String("lesson_id", id) }
func ClassGroupID(id string) slog.Attr { return slog.String("class_group_id", id) }
func CheckInID(id string) slog.Attr    { return slog.String("check_in_id", id) }
func XPAmount(xp int) slog.Attr        { return slog.Int("xp_amount", xp) }
func ErrorCode(code string) slog.Attr  { return slog.String("error_code", code) }
func Component(name string) slog.Attr  { return slog.String("component", name) }
func Operation(name string) slog.Attr  { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr {
	return slog.Duration("latency", d)
}
