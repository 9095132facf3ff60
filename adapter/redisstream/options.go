package redisstream

import (
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xipc"
	"github.com/trickstertwo/xlog"
)

// Option configures the xipc.Bus construction when calling Use.
type Option func(*xipc.BusBuilder)

func WithLogger(l *xlog.Logger) Option {
	return func(b *xipc.BusBuilder) { b.WithLogger(l) }
}

func WithClock(c xclock.Clock) Option {
	return func(b *xipc.BusBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "cs-ipc").
func WithCodec(name string) Option {
	return func(b *xipc.BusBuilder) { b.WithCodec(name) }
}

func WithMiddleware(mw ...xipc.Middleware) Option {
	return func(b *xipc.BusBuilder) { b.WithMiddleware(mw...) }
}

func WithAckTimeout(d time.Duration) Option {
	return func(b *xipc.BusBuilder) { b.WithAckTimeout(d) }
}

func WithObserver(obs ...xipc.Observer) Option {
	return func(b *xipc.BusBuilder) { b.WithObserver(obs...) }
}

func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xipc.BusBuilder) { b.WithObserverPool(workers, bufferSize) }
}
