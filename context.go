package xipc

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type ctxKey string

const (
	codecCtxKey  ctxKey = "xipc:codec"
	loggerCtxKey ctxKey = "xipc:logger"
	clockCtxKey  ctxKey = "xipc:clock"
)

func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext returns the Codec the bus injected into a handler context.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	if c, ok := ctx.Value(codecCtxKey).(Codec); ok && c != nil {
		return c, true
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if l, ok := ctx.Value(loggerCtxKey).(*xlog.Logger); ok && l != nil {
		return l, true
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if c, ok := ctx.Value(clockCtxKey).(xclock.Clock); ok && c != nil {
		return c, true
	}
	return nil, false
}

// InjectAll attaches codec, logger and clock the way the bus does for handlers.
// Useful for calling handlers directly in tests.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	ctx = injectCodec(ctx, codec)
	ctx = injectLogger(ctx, logger)
	return injectClock(ctx, clock)
}
