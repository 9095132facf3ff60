package pipe

import (
	"fmt"
	"io"
	"time"

	"github.com/trickstertwo/xipc"
	"github.com/trickstertwo/xlog"
)

// Use builds a Bus over r and w, installs it as the process default and
// returns it together with its transport. The bus codec is the binary codec
// in cfg.Layout so both ends of the stream agree.
func Use(r io.Reader, w io.Writer, cfg Config, opts ...Option) (*xipc.Bus, *Transport) {
	tr, err := NewTransport(r, w, cfg)
	if err != nil {
		panic(fmt.Errorf("pipe.Use: %w", err))
	}
	bb := xipc.NewBusBuilder().
		WithTransportInstance(tr).
		WithLayout(cfg.Layout)
	if cfg.Logger != nil {
		bb.WithLogger(cfg.Logger)
	}
	if cfg.Clock != nil {
		bb.WithClock(cfg.Clock)
	}
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}

	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("pipe.Use: %w", err))
	}
	xipc.SetDefault(bus)
	return bus, tr
}

// Option configures the xipc.Bus when calling Use.
type Option func(*xipc.BusBuilder)

func WithLogger(l *xlog.Logger) Option {
	return func(b *xipc.BusBuilder) { b.WithLogger(l) }
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
