package log

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

/*
log wraps log/slog with helpers that attach tags carried on the context. Tags
are added once, for instance a request ID by middleware or a cache name by the
service, and then appear on every record logged with that context.
*/

////////////////////////////////////////////////////////////////////////////////

type contextKey int

const (
	logTagKey contextKey = iota
)

// AddTags returns a context carrying the supplied key/value pairs, which will be
// attached to every record logged with it.
func AddTags(ctx context.Context, kvs ...any) context.Context {
	if len(kvs)%2 != 0 {
		panic("log: AddTags requires an even number of arguments")
	}
	tags := ctx.Value(logTagKey)
	if tags == nil {
		tags = []any{}
	}
	return context.WithValue(
		ctx,
		logTagKey,
		append(tags.([]any), kvs...),
	)
}

func fromContext(ctx context.Context) []any {
	tags, _ := ctx.Value(logTagKey).([]any)
	return tags
}

func levelf(ctx context.Context, level slog.Level, format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	tags := fromContext(ctx)
	for i := 0; i < len(tags); i += 2 {
		r.Add(tags[i].(string), tags[i+1])
	}
	handler := slog.Default().Handler()
	if handler.Enabled(ctx, level) {
		if err := slog.Default().Handler().Handle(ctx, r); err != nil {
			slog.ErrorContext(ctx, "error handling log record", "error", err)
		}
	}
}

func Infof(ctx context.Context, format string, args ...any) {
	levelf(ctx, slog.LevelInfo, format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	levelf(ctx, slog.LevelError, format, args...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	levelf(ctx, slog.LevelDebug, format, args...)
}

func Warnf(ctx context.Context, format string, args ...any) {
	levelf(ctx, slog.LevelWarn, format, args...)
}

func levelw(ctx context.Context, level slog.Level, msg string, keyvals ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	for i := 0; i < len(keyvals); i += 2 {
		r.Add(keyvals[i].(string), keyvals[i+1])
	}
	tags := fromContext(ctx)
	for i := 0; i < len(tags); i += 2 {
		r.Add(tags[i].(string), tags[i+1])
	}
	handler := slog.Default().Handler()
	if handler.Enabled(ctx, level) {
		if err := handler.Handle(ctx, r); err != nil {
			slog.ErrorContext(ctx, "error handling log record", "error", err)
		}
	}
}

func Infow(ctx context.Context, msg string, keyvals ...any) {
	levelw(ctx, slog.LevelInfo, msg, keyvals...)
}

func Errorw(ctx context.Context, msg string, keyvals ...any) {
	levelw(ctx, slog.LevelError, msg, keyvals...)
}

func Debugw(ctx context.Context, msg string, keyvals ...any) {
	levelw(ctx, slog.LevelDebug, msg, keyvals...)
}

func Warnw(ctx context.Context, msg string, keyvals ...any) {
	levelw(ctx, slog.LevelWarn, msg, keyvals...)
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", name)
	}
}
