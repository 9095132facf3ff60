package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xipc"
	"github.com/trickstertwo/xlog"
)

// Use builds a Bus on the in-memory transport and installs it as the
// process-wide default.
//
//	bus := memory.Use(memory.Config{Concurrency: 8, AssignIDs: true},
//	    memory.WithLogger(logger),
//	)
func Use(cfg Config, opts ...Option) *xipc.Bus {
	bb := xipc.NewBusBuilder().WithTransport(TransportName, cfg.toMap())
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}

	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	xipc.SetDefault(bus)
	return bus
}

// Option configures the xipc.Bus when calling Use.
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
