package xipc

import "context"

// PublishBatch encodes msgs and hands them to the transport in one call.
// Every message is validated before anything is encoded, so a bad message
// publishes nothing.
func (b *Bus) PublishBatch(ctx context.Context, topic string, msgs ...*EventMessage) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if len(msgs) == 0 {
		return nil
	}
	if topic == "" {
		return ErrInvalidTopic
	}
	for _, m := range msgs {
		if m == nil {
			return ErrInvalidMessage
		}
		if m.Event == "" {
			return ErrInvalidEventName
		}
	}

	b.metrics.publishCount.Add(uint64(len(msgs)))

	envs := make([]*Envelope, len(msgs))
	for i, m := range msgs {
		env, err := b.envelope(m, nil)
		if err != nil {
			b.metrics.errorCount.Add(1)
			return err
		}
		envs[i] = env
	}

	b.notify(BusEvent{Type: EventPublishStart, Topic: topic, EventName: "batch"})
	start := b.clock.Now()

	err := b.transport.Publish(ctx, topic, envs...)

	duration := b.clock.Since(start)
	b.recordProcessingTime(duration.Nanoseconds())
	b.notify(BusEvent{Type: EventPublishDone, Topic: topic, EventName: "batch", Duration: duration, Err: err})
	if err != nil {
		b.metrics.errorCount.Add(1)
	}
	return err
}
