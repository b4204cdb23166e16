package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogBridge forwards log/slog records to zerolog so packages written
// against slog share the process logger. WithAttrs binds fields into a
// child logger immediately; groups are flattened.
type slogBridge struct {
	zl zerolog.Logger
}

// NewSlog wraps a zerolog logger in a *slog.Logger.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(slogBridge{zl: *zl})
}

func (b slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return zlLevel(level) >= zerolog.GlobalLevel()
}

func (b slogBridge) Handle(ctx context.Context, rec slog.Record) error {
	ev := b.zl.WithLevel(zlLevel(rec.Level))
	if id, ok := ctx.Value(ctxReqIDKey).(string); ok && id != "" {
		ev = ev.Str("request_id", id)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = eventAttr(ev, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (b slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	w := b.zl.With()
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		switch a.Value.Kind() {
		case slog.KindString:
			w = w.Str(a.Key, a.Value.String())
		case slog.KindInt64:
			w = w.Int64(a.Key, a.Value.Int64())
		case slog.KindFloat64:
			w = w.Float64(a.Key, a.Value.Float64())
		case slog.KindBool:
			w = w.Bool(a.Key, a.Value.Bool())
		default:
			w = w.Interface(a.Key, a.Value.Any())
		}
	}
	return slogBridge{zl: w.Logger()}
}

func (b slogBridge) WithGroup(string) slog.Handler { return b }

func zlLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func eventAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(a.Key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(a.Key, a.Value.Int64())
	case slog.KindFloat64:
		return ev.Float64(a.Key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(a.Key, a.Value.Bool())
	default:
		return ev.Interface(a.Key, a.Value.Any())
	}
}
