package xipc

import (
	"context"
	"sync"
)

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// Default returns the process-wide Bus. On first use it is built with init
// (which may be nil); later calls ignore init.
func Default(init func(b *BusBuilder)) (*Bus, error) {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()

	if defaultBus != nil {
		return defaultBus, nil
	}
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, err
	}
	defaultBus = bus
	return defaultBus, nil
}

// SetDefault replaces the process-wide default Bus. Passing nil resets it
// so the next Default call builds a new one.
func SetDefault(b *Bus) {
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Publish is the Facade using the default bus.
func Publish(ctx context.Context, topic string, msg *EventMessage, meta map[string]string) error {
	b, err := Default(nil)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, msg, meta)
}

// PublishBatch is the Facade using the default bus for batch publishing.
func PublishBatch(ctx context.Context, topic string, msgs ...*EventMessage) error {
	b, err := Default(nil)
	if err != nil {
		return err
	}
	return b.PublishBatch(ctx, topic, msgs...)
}

// Subscribe is the Facade using the default bus.
func Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	b, err := Default(nil)
	if err != nil {
		return nil, err
	}
	return b.Subscribe(ctx, topic, group, handler)
}
