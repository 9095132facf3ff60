package xipc

import (
	"time"
)

// EventType enumerates bus lifecycle events reported to observers.
type EventType string

const (
	EventPublishStart EventType = "publish_start"
	EventPublishDone  EventType = "publish_done"
	EventConsumeStart EventType = "consume_start"
	EventConsumeDone  EventType = "consume_done"
	EventAck          EventType = "ack"
	EventNack         EventType = "nack"
	EventError        EventType = "error"
)

// BusEvent carries telemetry for observers. EventName is the name of the
// EventMessage involved, or "batch" for batch publishes.
type BusEvent struct {
	Type      EventType
	Topic     string
	Group     string
	MessageID string
	EventName string
	Sender    string
	Duration  time.Duration
	Err       error

	observers []Observer
}

func (e BusEvent) with(t EventType, d time.Duration, err error) BusEvent {
	e.Type, e.Duration, e.Err = t, d, err
	return e
}
