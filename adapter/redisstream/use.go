package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xipc"
)

const TransportName = "redis-streams"

func init() {
	if err := xipc.RegisterTransport(TransportName, func(cfg map[string]any) (xipc.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xipc: failed to register transport %q: %w", TransportName, err))
	}
}

// Use builds a Bus on Redis Streams, installs it as the default Bus and
// returns it. It panics when the bus cannot be built.
func Use(cfg Config, opts ...Option) *xipc.Bus {
	bb := xipc.NewBusBuilder().WithTransport(TransportName, cfg.toMap())
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	xipc.SetDefault(bus)
	return bus
}
