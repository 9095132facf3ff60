package xipc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ HealthChecker = (*Bus)(nil)

// Bus is the central Facade that publishes EventMessages to a Transport and
// dispatches received envelopes to handlers.
type Bus struct {
	transport    Transport
	codec        Codec
	clock        xclock.Clock
	logger       *xlog.Logger
	middlewares  []Middleware
	ackTimeout   time.Duration
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	metrics      *busMetrics
	closed       atomic.Bool
	closeOnce    sync.Once
}

type busMetrics struct {
	publishCount atomic.Uint64
	consumeCount atomic.Uint64
	ackCount     atomic.Uint64
	nackCount    atomic.Uint64
	errorCount   atomic.Uint64
	processingNs atomic.Int64
}

// Codec returns the configured codec (Strategy).
func (b *Bus) Codec() Codec { return b.codec }

// Publish encodes msg and sends it to topic. meta travels with the envelope
// and is not part of the encoded message.
func (b *Bus) Publish(ctx context.Context, topic string, msg *EventMessage, meta map[string]string) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if topic == "" {
		return ErrInvalidTopic
	}
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.Event == "" {
		return ErrInvalidEventName
	}

	b.metrics.publishCount.Add(1)

	env, err := b.envelope(msg, meta)
	if err != nil {
		b.metrics.errorCount.Add(1)
		return err
	}

	b.notify(BusEvent{Type: EventPublishStart, Topic: topic, EventName: msg.Event, Sender: msg.Sender})
	start := b.clock.Now()

	err = b.transport.Publish(ctx, topic, env)

	duration := b.clock.Since(start)
	b.recordProcessingTime(duration.Nanoseconds())
	b.notify(BusEvent{
		Type:      EventPublishDone,
		Topic:     topic,
		MessageID: env.ID,
		EventName: msg.Event,
		Sender:    msg.Sender,
		Duration:  duration,
		Err:       err,
	})
	if err != nil {
		b.metrics.errorCount.Add(1)
	}
	return err
}

func (b *Bus) envelope(msg *EventMessage, meta map[string]string) (*Envelope, error) {
	data, err := b.codec.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Event:      msg.Event,
		Sender:     msg.Sender,
		Payload:    data,
		Metadata:   meta,
		ProducedAt: b.clock.Now(),
	}, nil
}

// Subscribe registers handler under a consumer group for topic. The handler
// context carries the bus codec, logger and clock; use Decode to get the
// EventMessage back. A nil handler error Acks the delivery, anything else
// (including a panic) Nacks it.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if topic == "" || group == "" || handler == nil {
		return nil, ErrInvalidSubscription
	}

	wh := Chain(RecoveryMiddleware()(handler), b.middlewares...)
	hctx := InjectAll(ctx, b.codec, b.logger, b.clock)

	return b.transport.Subscribe(ctx, topic, group, func(d Delivery) {
		env := d.Envelope()
		defer func() {
			if r := recover(); r != nil {
				b.logger.With(
					xlog.Str("topic", topic),
					xlog.Str("message_id", env.ID),
				).Warn().Msg("xipc: handler panic (recovered)")
				b.metrics.errorCount.Add(1)
				_ = d.Nack(context.Background(), ErrHandlerPanic)
			}
		}()

		b.metrics.consumeCount.Add(1)
		ev := BusEvent{
			Topic:     topic,
			Group:     group,
			MessageID: env.ID,
			EventName: env.Event,
			Sender:    env.Sender,
		}
		b.notify(ev.with(EventConsumeStart, 0, nil))

		start := b.clock.Now()
		err := wh(hctx, env)
		duration := b.clock.Since(start)
		b.recordProcessingTime(duration.Nanoseconds())

		if err == nil {
			b.metrics.ackCount.Add(1)
			b.ackWithTimeout(hctx, d, true, nil)
			b.notify(ev.with(EventConsumeDone, duration, nil))
			b.notify(ev.with(EventAck, 0, nil))
			return
		}

		b.metrics.nackCount.Add(1)
		b.ackWithTimeout(hctx, d, false, err)
		b.notify(ev.with(EventConsumeDone, duration, err))
		b.notify(ev.with(EventNack, 0, err))
	})
}

func (b *Bus) ackWithTimeout(ctx context.Context, d Delivery, ack bool, reason error) {
	actx := ctx
	cancel := func() {}
	if b.ackTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, b.ackTimeout)
	}
	defer cancel()

	if ack {
		if err := d.Ack(actx); err != nil {
			b.metrics.errorCount.Add(1)
			b.notify(BusEvent{Type: EventError, MessageID: d.Envelope().ID, Err: err})
			b.logger.Warn().Err(err).Msg("xipc: ack failed")
		}
		return
	}
	if err := d.Nack(actx, reason); err != nil {
		b.metrics.errorCount.Add(1)
		b.notify(BusEvent{Type: EventError, MessageID: d.Envelope().ID, Err: err})
		b.logger.Warn().Err(err).Msg("xipc: nack failed")
	}
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	m := Metrics{
		Published:           b.metrics.publishCount.Load(),
		Consumed:            b.metrics.consumeCount.Load(),
		Acked:               b.metrics.ackCount.Load(),
		Nacked:              b.metrics.nackCount.Load(),
		Errors:              b.metrics.errorCount.Load(),
		AvgProcessingTimeMs: float64(b.metrics.processingNs.Load()) / 1e6,
	}
	if b.observerPool != nil {
		m.EventsDropped = b.observerPool.Stats().Dropped
	}
	return m
}

// Health reports "unhealthy" once closed and "degraded" when more than 5%
// of publishes ended in an error.
func (b *Bus) Health(ctx context.Context) HealthStatus {
	now := b.clock.Now()
	if b.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "bus is closed"}
	}

	metrics := b.GetMetrics()
	status := "healthy"
	if metrics.Errors > 0 && metrics.Published > 0 {
		if float64(metrics.Errors)/float64(metrics.Published) > 0.05 {
			status = "degraded"
		}
	}
	return HealthStatus{Status: status, Metrics: metrics, Timestamp: now}
}

// Close stops the observer pool and closes the transport. It is idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.closed.Store(true)

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("xipc: observer pool shutdown timeout")
				closeErr = err
			}
		}
		if err := b.transport.Close(ctx); err != nil {
			b.logger.Error().Err(err).Msg("xipc: transport close failed")
			closeErr = err
		}
	})
	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes the first registration of obs. Observers must be
// comparable; pass a pointer when registering a func-backed observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

// notify hands e to the observer pool, or calls observers inline when the
// bus was built without one.
func (b *Bus) notify(e BusEvent) {
	b.observersMu.RLock()
	if len(b.observers) == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	if b.observerPool != nil {
		if !b.closed.Load() {
			b.observerPool.Notify(e, observers)
		}
		return
	}
	for _, o := range observers {
		dispatchSafe(o, e)
	}
}

// recordProcessingTime keeps an exponential moving average.
func (b *Bus) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := b.metrics.processingNs.Load()
	if current == 0 {
		b.metrics.processingNs.Store(ns)
		return
	}
	b.metrics.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
