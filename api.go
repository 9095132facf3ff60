package xipc

import (
	"context"
)

// Handler processes one delivered envelope. Returning an error Nacks it.
type Handler func(ctx context.Context, env *Envelope) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Subscription represents an active subscription that can be closed.
type Subscription interface {
	Close() error
}

// Observer receives bus lifecycle events. Implementations should not block.
type Observer interface {
	OnBusEvent(e BusEvent)
}

// HealthChecker reports bus health for liveness/readiness probes.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API is the complete bus surface.
type API interface {
	Publish(ctx context.Context, topic string, msg *EventMessage, meta map[string]string) error
	PublishBatch(ctx context.Context, topic string, msgs ...*EventMessage) error
	Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error)
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Bus)(nil)
