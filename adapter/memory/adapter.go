package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xipc"
)

const TransportName = "memory"

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("xipc/memory: transport is closed")

func init() {
	if err := xipc.RegisterTransport(TransportName, func(cfg map[string]any) (xipc.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xipc/memory: failed to register transport: %w", err))
	}
}

// Config controls memory transport behavior.
type Config struct {
	// BufferSize is the per-group queue size (default: 1024).
	BufferSize int
	// Concurrency is the number of workers per subscription (default: 1).
	Concurrency int
	// RedeliveryDelay is the delay before a Nacked envelope is queued again.
	RedeliveryDelay time.Duration
	// MaxDeliveries caps deliveries of one envelope; 0 redelivers forever.
	MaxDeliveries int
	// AssignIDs gives envelopes without an ID a random UUID (default: true).
	AssignIDs bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	return Config{
		BufferSize:      max(1, getInt("buffer_size", 1024)),
		Concurrency:     max(1, getInt("concurrency", 1)),
		RedeliveryDelay: getDur("redelivery_delay", 0),
		MaxDeliveries:   max(0, getInt("max_deliveries", 0)),
		AssignIDs:       getBool("assign_ids", true),
	}
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size":      c.BufferSize,
		"concurrency":      c.Concurrency,
		"redelivery_delay": c.RedeliveryDelay,
		"max_deliveries":   c.MaxDeliveries,
		"assign_ids":       c.AssignIDs,
	}
}

// Transport moves envelopes between goroutines of one process. Every
// consumer group of a topic gets each envelope once; workers inside a group
// compete for it. Publishing to a topic nobody subscribed to drops the
// envelope.
type Transport struct {
	cfg Config

	mu     sync.RWMutex
	topics map[string]*topic

	closed  atomic.Bool
	metrics *transportMetrics
}

type transportMetrics struct {
	published   atomic.Uint64
	consumed    atomic.Uint64
	acked       atomic.Uint64
	nacked      atomic.Uint64
	redelivered atomic.Uint64
	dropped     atomic.Uint64
}

var _ xipc.Transport = (*Transport)(nil)

func NewTransport(cfg Config) *Transport {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Transport{
		cfg:     cfg,
		topics:  make(map[string]*topic),
		metrics: &transportMetrics{},
	}
}

// Publish fans envs out to every consumer group of topic. A full group
// queue blocks until there is room or ctx is done.
func (t *Transport) Publish(ctx context.Context, topicName string, envs ...*xipc.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.RLock()
	top, ok := t.topics[topicName]
	t.mu.RUnlock()
	if !ok {
		t.metrics.dropped.Add(uint64(len(envs)))
		return nil
	}

	for _, env := range envs {
		if env == nil {
			continue
		}
		if t.cfg.AssignIDs && env.ID == "" {
			env.ID = uuid.NewString()
		}

		top.mu.RLock()
		groups := make([]*group, 0, len(top.groups))
		for _, g := range top.groups {
			groups = append(groups, g)
		}
		top.mu.RUnlock()

		for _, g := range groups {
			task := &deliveryTask{tr: t, group: g, env: cloneEnvelope(env)}
			select {
			case g.queue <- task:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		t.metrics.published.Add(1)
	}
	return nil
}

// Subscribe starts Config.Concurrency workers on the group's queue.
// Queued envelopes survive the subscription so a later subscriber of the
// same group picks them up.
func (t *Transport) Subscribe(ctx context.Context, topicName, groupName string, handler func(xipc.Delivery)) (xipc.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	g := t.ensureTopic(topicName).ensureGroup(groupName, t.cfg.BufferSize)

	innerCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for range t.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.worker(innerCtx, g, handler)
		}()
	}

	var once sync.Once
	return &subscription{close: func() error {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
		return nil
	}}, nil
}

func (t *Transport) worker(ctx context.Context, g *group, handler func(xipc.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-g.queue:
			task.deliveries++
			t.metrics.consumed.Add(1)
			handler(&delivery{task: task})
		}
	}
}

// Close drops all topics. It is idempotent.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	t.topics = make(map[string]*topic)
	t.mu.Unlock()
	return nil
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Published   uint64
	Consumed    uint64
	Acked       uint64
	Nacked      uint64
	Redelivered uint64
	// Dropped counts envelopes published to topics without subscribers,
	// and envelopes that ran out of deliveries.
	Dropped uint64
}

func (t *Transport) Stats() Stats {
	return Stats{
		Published:   t.metrics.published.Load(),
		Consumed:    t.metrics.consumed.Load(),
		Acked:       t.metrics.acked.Load(),
		Nacked:      t.metrics.nacked.Load(),
		Redelivered: t.metrics.redelivered.Load(),
		Dropped:     t.metrics.dropped.Load(),
	}
}

type subscription struct {
	close func() error
}

func (s *subscription) Close() error { return s.close() }

type topic struct {
	mu     sync.RWMutex
	groups map[string]*group
}

type group struct {
	name  string
	queue chan *deliveryTask
}

type deliveryTask struct {
	tr         *Transport
	group      *group
	env        *xipc.Envelope
	deliveries int
}

type delivery struct {
	task *deliveryTask
	once sync.Once
}

func (d *delivery) Envelope() *xipc.Envelope { return d.task.env }

// Deliveries is how many times this envelope has been handed to a handler,
// this delivery included.
func (d *delivery) Deliveries() int { return d.task.deliveries }

func (d *delivery) Ack(_ context.Context) error {
	d.once.Do(func() { d.task.tr.metrics.acked.Add(1) })
	return nil
}

// Nack queues the envelope again, after RedeliveryDelay when set. Once
// MaxDeliveries is reached the envelope is dropped instead.
func (d *delivery) Nack(ctx context.Context, _ error) error {
	d.once.Do(func() {
		tr := d.task.tr
		tr.metrics.nacked.Add(1)
		if tr.cfg.MaxDeliveries > 0 && d.task.deliveries >= tr.cfg.MaxDeliveries {
			tr.metrics.dropped.Add(1)
			return
		}
		if tr.closed.Load() {
			return
		}
		tr.metrics.redelivered.Add(1)

		if tr.cfg.RedeliveryDelay <= 0 {
			select {
			case d.task.group.queue <- d.task:
			case <-ctx.Done():
			}
			return
		}
		go func(task *deliveryTask) {
			timer := time.NewTimer(tr.cfg.RedeliveryDelay)
			defer timer.Stop()
			<-timer.C
			if tr.closed.Load() {
				return
			}
			select {
			case task.group.queue <- task:
			default:
				tr.metrics.dropped.Add(1)
			}
		}(d.task)
	})
	return nil
}

func (t *Transport) ensureTopic(name string) *topic {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tp, ok := t.topics[name]; ok {
		return tp
	}
	tp := &topic{groups: make(map[string]*group)}
	t.topics[name] = tp
	return tp
}

func (tp *topic) ensureGroup(name string, bufferSize int) *group {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if g, ok := tp.groups[name]; ok {
		return g
	}
	g := &group{name: name, queue: make(chan *deliveryTask, bufferSize)}
	tp.groups[name] = g
	return g
}

// cloneEnvelope gives each group its own envelope so handlers in different
// groups cannot see each other's mutations. Payload bytes are shared.
func cloneEnvelope(env *xipc.Envelope) *xipc.Envelope {
	c := *env
	c.Metadata = maps.Clone(env.Metadata)
	return &c
}
