package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xipc"
)

// Transport implements xipc.Transport on Redis Streams. One stream per
// topic; each bus consumer group maps to a Redis consumer group.
type Transport struct {
	cfg    Config
	client *redis.Client

	closed atomic.Bool

	// deliveries are recycled once the handler returns
	dpool sync.Pool

	metrics *transportMetrics
}

type transportMetrics struct {
	published     atomic.Uint64
	consumed      atomic.Uint64
	acked         atomic.Uint64
	nacked        atomic.Uint64
	deadLettered  atomic.Uint64
	claimed       atomic.Uint64
	publishErrors atomic.Uint64
	consumeErrors atomic.Uint64
}

var _ xipc.Transport = (*Transport)(nil)

// NewTransport validates cfg, connects and pings Redis.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     max(10, cfg.Concurrency+2),
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Transport{
		cfg:     cfg,
		client:  client,
		metrics: &transportMetrics{},
		dpool:   sync.Pool{New: func() any { return new(delivery) }},
	}, nil
}

// Publish appends envs to the topic stream in one pipeline.
func (t *Transport) Publish(ctx context.Context, topic string, envs ...*xipc.Envelope) error {
	if t.closed.Load() {
		return errors.New("xipc/redisstream: transport is closed")
	}
	if len(envs) == 0 {
		return nil
	}

	pipe := t.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(envs))
	for _, env := range envs {
		if env == nil {
			continue
		}
		args := &redis.XAddArgs{
			Stream: topic,
			ID:     "*",
			Values: encodeEnvelope(env),
		}
		if t.cfg.MaxLenApprox > 0 {
			args.MaxLen = t.cfg.MaxLenApprox
			args.Approx = true
		}
		cmds = append(cmds, pipe.XAdd(ctx, args))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		t.metrics.publishErrors.Add(uint64(len(cmds)))
		return err
	}

	// envelopes without an ID take the stream entry ID
	i := 0
	for _, env := range envs {
		if env == nil {
			continue
		}
		if env.ID == "" {
			env.ID = cmds[i].Val()
		}
		i++
	}
	t.metrics.published.Add(uint64(len(cmds)))
	return nil
}

type subscription struct {
	once  sync.Once
	close func()
}

func (s *subscription) Close() error {
	s.once.Do(s.close)
	return nil
}

// Subscribe reads topic as a member of group. A poller feeds
// Config.Concurrency workers; with ClaimMinIdle set, a second producer
// reclaims entries left pending too long and feeds them to the same workers.
func (t *Transport) Subscribe(ctx context.Context, topic, group string, handler func(xipc.Delivery)) (xipc.Subscription, error) {
	if t.closed.Load() {
		return nil, errors.New("xipc/redisstream: transport is closed")
	}

	if t.cfg.AutoCreate {
		err := t.client.XGroupCreateMkStream(ctx, topic, group, t.cfg.StartID).Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("xipc/redisstream: create group %q on %q: %w", group, topic, err)
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	workCh := make(chan *delivery, t.cfg.Concurrency*2)

	var workers, producers sync.WaitGroup
	for range t.cfg.Concurrency {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for d := range workCh {
				handler(d)
				t.releaseDelivery(d)
			}
		}()
	}

	producers.Add(1)
	go func() {
		defer producers.Done()
		t.pollerLoop(innerCtx, topic, group, workCh)
	}()

	if t.cfg.ClaimMinIdle > 0 && t.cfg.ClaimInterval > 0 {
		producers.Add(1)
		go func() {
			defer producers.Done()
			t.claimLoop(innerCtx, topic, group, workCh)
		}()
	}

	go func() {
		producers.Wait()
		close(workCh)
	}()

	return &subscription{close: func() {
		cancel()
		producers.Wait()
		workers.Wait()
	}}, nil
}

func (t *Transport) pollerLoop(ctx context.Context, topic, group string, workCh chan<- *delivery) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: t.cfg.Consumer,
		Streams:  []string{topic, ">"},
		Count:    int64(max(1, t.cfg.BatchSize)),
		Block:    t.cfg.Block,
	}

	const minBackoff, maxBackoff = 100 * time.Millisecond, 5 * time.Second
	backoff := minBackoff

	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				backoff = minBackoff
				continue
			}
			t.metrics.consumeErrors.Add(1)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = minBackoff

		for _, stream := range res {
			if !t.dispatch(ctx, topic, group, stream.Messages, workCh) {
				return
			}
		}
	}
}

// claimLoop takes over entries idle for longer than ClaimMinIdle, whether a
// crashed consumer left them or a Nack without dead-letter did.
func (t *Transport) claimLoop(ctx context.Context, topic, group string, workCh chan<- *delivery) {
	ticker := time.NewTicker(t.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := "0-0"
		for {
			msgs, next, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   topic,
				Group:    group,
				Consumer: t.cfg.Consumer,
				MinIdle:  t.cfg.ClaimMinIdle,
				Start:    start,
				Count:    int64(max(1, t.cfg.ClaimBatch)),
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					t.metrics.consumeErrors.Add(1)
				}
				break
			}
			t.metrics.claimed.Add(uint64(len(msgs)))
			if !t.dispatch(ctx, topic, group, msgs, workCh) {
				return
			}
			if next == "" || next == "0-0" {
				break
			}
			start = next
		}
	}
}

// dispatch hands msgs to the workers. It reports false once ctx is done.
func (t *Transport) dispatch(ctx context.Context, topic, group string, msgs []redis.XMessage, workCh chan<- *delivery) bool {
	for _, msg := range msgs {
		d := t.newDelivery()
		d.t = t
		d.topic = topic
		d.group = group
		d.id = msg.ID
		d.env = decodeEnvelope(msg.ID, msg.Values)

		t.metrics.consumed.Add(1)
		select {
		case workCh <- d:
		case <-ctx.Done():
			t.releaseDelivery(d)
			return false
		}
	}
	return true
}

func (t *Transport) newDelivery() *delivery {
	d := t.dpool.Get().(*delivery)
	d.once = sync.Once{}
	return d
}

func (t *Transport) releaseDelivery(d *delivery) {
	*d = delivery{}
	t.dpool.Put(d)
}

// Close closes the Redis client. Close subscriptions first.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.Close()
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Acked         uint64
	Nacked        uint64
	DeadLettered  uint64
	Claimed       uint64
	PublishErrors uint64
	ConsumeErrors uint64
}

func (t *Transport) Stats() Stats {
	return Stats{
		Published:     t.metrics.published.Load(),
		Consumed:      t.metrics.consumed.Load(),
		Acked:         t.metrics.acked.Load(),
		Nacked:        t.metrics.nacked.Load(),
		DeadLettered:  t.metrics.deadLettered.Load(),
		Claimed:       t.metrics.claimed.Load(),
		PublishErrors: t.metrics.publishErrors.Load(),
		ConsumeErrors: t.metrics.consumeErrors.Load(),
	}
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if !strings.EqualFold(res, "PONG") {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
