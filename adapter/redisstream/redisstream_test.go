package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xipc"
)

// redisServer starts an in-process Redis and returns a client for inspecting it.
func redisServer(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig(addr string) Config {
	cfg := Defaults()
	cfg.Addr = addr
	cfg.Consumer = "test-consumer"
	cfg.Concurrency = 2
	cfg.Block = 50 * time.Millisecond
	return cfg
}

func newTestTransport(t testing.TB, cfg Config) *Transport {
	t.Helper()
	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func sampleEnvelope(t testing.TB, i int) *xipc.Envelope {
	t.Helper()
	m := xipc.NewEventMessage("sensor.reading")
	m.Sender = "probe-7"
	m.PushInt(int32(i))
	m.PushFloat(21.5)
	m.PushString("celsius")
	payload, err := m.MarshalBinary()
	require.NoError(t, err)
	return &xipc.Envelope{
		Event:      m.Event,
		Sender:     m.Sender,
		Payload:    payload,
		Metadata:   map[string]string{"tenant": "acme"},
		ProducedAt: time.Unix(0, 1_700_000_000_000_000_000),
	}
}

func TestPublish_WritesEntryFields(t *testing.T) {
	mr, client := redisServer(t)
	tr := newTestTransport(t, testConfig(mr.Addr()))
	ctx := context.Background()

	env := sampleEnvelope(t, 1)
	require.NoError(t, tr.Publish(ctx, "readings", env))
	assert.NotEmpty(t, env.ID, "stream entry ID is assigned to envelopes without one")

	entries, err := client.XRange(ctx, "readings", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	vals := entries[0].Values
	assert.Equal(t, env.ID, entries[0].ID)
	assert.Equal(t, "sensor.reading", vals[fieldEvent])
	assert.Equal(t, "probe-7", vals[fieldSender])
	assert.Equal(t, string(env.Payload), vals[fieldPayload])
	assert.Equal(t, "1700000000000000000", vals[fieldProducedAt])
	assert.Equal(t, "acme", vals[fieldMetaPrefix+"tenant"])
	assert.NotContains(t, vals, fieldID)

	assert.Equal(t, uint64(1), tr.Stats().Published)
}

func TestPublish_KeepsCallerID(t *testing.T) {
	mr, client := redisServer(t)
	tr := newTestTransport(t, testConfig(mr.Addr()))
	ctx := context.Background()

	env := sampleEnvelope(t, 1)
	env.ID = "caller-id"
	require.NoError(t, tr.Publish(ctx, "readings", env))
	assert.Equal(t, "caller-id", env.ID)

	entries, err := client.XRange(ctx, "readings", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "caller-id", entries[0].Values[fieldID])
}

func TestPublish_BatchIsPipelined(t *testing.T) {
	mr, client := redisServer(t)
	tr := newTestTransport(t, testConfig(mr.Addr()))
	ctx := context.Background()

	envs := make([]*xipc.Envelope, 50)
	for i := range envs {
		envs[i] = sampleEnvelope(t, i)
	}
	require.NoError(t, tr.Publish(ctx, "readings", envs...))

	n, err := client.XLen(ctx, "readings").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	assert.Equal(t, uint64(50), tr.Stats().Published)
}

func TestPublish_AfterClose(t *testing.T) {
	mr, _ := redisServer(t)
	tr, err := NewTransport(testConfig(mr.Addr()))
	require.NoError(t, err)
	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	assert.Error(t, tr.Publish(context.Background(), "readings", sampleEnvelope(t, 1)))
}

func TestDecodeEnvelope_RoundTrip(t *testing.T) {
	env := sampleEnvelope(t, 3)
	env.ID = "abc"

	raw := encodeEnvelope(env)
	vals := make(map[string]any, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case []byte:
			vals[k] = string(x)
		case int64:
			vals[k] = fmt.Sprint(x)
		default:
			vals[k] = v
		}
	}

	got := decodeEnvelope("1-0", vals)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Event, got.Event)
	assert.Equal(t, env.Sender, got.Sender)
	assert.Equal(t, env.Payload, got.Payload)
	assert.Equal(t, env.Metadata, got.Metadata)
	assert.True(t, env.ProducedAt.Equal(got.ProducedAt))
}

func TestSubscribe_ConsumesAllEntries(t *testing.T) {
	mr, client := redisServer(t)
	tr := newTestTransport(t, testConfig(mr.Addr()))
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen = map[int32]bool{}
	)
	sub, err := tr.Subscribe(ctx, "readings", "workers", func(d xipc.Delivery) {
		m, err := xipc.DecodeCodec(xipc.BinaryCodec{}, d.Envelope())
		if !assert.NoError(t, err) {
			_ = d.Nack(ctx, err)
			return
		}
		v, err := m.ParamInt(0)
		assert.NoError(t, err)
		mu.Lock()
		seen[v] = true
		mu.Unlock()
		assert.NoError(t, d.Ack(ctx))
	})
	require.NoError(t, err)
	defer sub.Close()

	const total = 20
	for i := range total {
		require.NoError(t, tr.Publish(ctx, "readings", sampleEnvelope(t, i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == total
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "readings", "workers").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint64(total), tr.Stats().Acked)
}

func TestSubscribe_AutoDeleteOnAck(t *testing.T) {
	mr, client := redisServer(t)
	cfg := testConfig(mr.Addr())
	cfg.AutoDeleteOnAck = true
	tr := newTestTransport(t, cfg)
	ctx := context.Background()

	var acked atomic.Int32
	sub, err := tr.Subscribe(ctx, "readings", "workers", func(d xipc.Delivery) {
		if d.Ack(ctx) == nil {
			acked.Add(1)
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, "readings", sampleEnvelope(t, 1), sampleEnvelope(t, 2)))
	require.Eventually(t, func() bool { return acked.Load() == 2 }, 5*time.Second, 20*time.Millisecond)

	n, err := client.XLen(ctx, "readings").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeadLetter_NackWritesToDLQ(t *testing.T) {
	mr, client := redisServer(t)
	cfg := testConfig(mr.Addr())
	cfg.DeadLetter = "readings-dlq"
	tr := newTestTransport(t, cfg)
	ctx := context.Background()

	var nacked atomic.Int32
	sub, err := tr.Subscribe(ctx, "readings", "workers", func(d xipc.Delivery) {
		if d.Nack(ctx, errors.New("sensor offline")) == nil {
			nacked.Add(1)
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	env := sampleEnvelope(t, 9)
	require.NoError(t, tr.Publish(ctx, "readings", env))
	require.Eventually(t, func() bool { return nacked.Load() == 1 }, 5*time.Second, 20*time.Millisecond)

	entries, err := client.XRange(ctx, "readings-dlq", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	vals := entries[0].Values
	assert.Equal(t, "readings", vals[fieldOrigTopic])
	assert.Equal(t, env.ID, vals[fieldOrigID])
	assert.Equal(t, "sensor offline", vals[fieldError])
	assert.Equal(t, "sensor.reading", vals[fieldEvent])
	assert.Equal(t, string(env.Payload), vals[fieldPayload])

	pending, err := client.XPending(ctx, "readings", "workers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count, "original is acknowledged after dead-lettering")

	st := tr.Stats()
	assert.Equal(t, uint64(1), st.Nacked)
	assert.Equal(t, uint64(1), st.DeadLettered)
}

func TestClaim_RedeliversNackedEntry(t *testing.T) {
	mr, _ := redisServer(t)
	cfg := testConfig(mr.Addr())
	cfg.ClaimMinIdle = 50 * time.Millisecond
	cfg.ClaimInterval = 50 * time.Millisecond
	tr := newTestTransport(t, cfg)
	ctx := context.Background()

	var attempts, acked atomic.Int32
	sub, err := tr.Subscribe(ctx, "readings", "workers", func(d xipc.Delivery) {
		if attempts.Add(1) == 1 {
			_ = d.Nack(ctx, errors.New("try again"))
			return
		}
		if d.Ack(ctx) == nil {
			acked.Add(1)
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, "readings", sampleEnvelope(t, 1)))
	require.Eventually(t, func() bool { return acked.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, tr.Stats().Claimed, uint64(1))
}

func TestBus_EndToEnd(t *testing.T) {
	mr, _ := redisServer(t)
	cfg := testConfig(mr.Addr())
	tr := newTestTransport(t, cfg)

	bus, closeBus, err := xipc.New(func(b *xipc.BusBuilder) {
		b.WithTransportInstance(tr)
	})
	require.NoError(t, err)
	defer closeBus()

	ctx := context.Background()
	got := make(chan *xipc.EventMessage, 1)
	sub, err := bus.Subscribe(ctx, "commands", "svc", func(ctx context.Context, env *xipc.Envelope) error {
		m, err := xipc.Decode(ctx, env)
		if err != nil {
			return err
		}
		got <- m
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	msg := xipc.NewEventMessage("ping")
	msg.Sender = "client-a"
	msg.PushInt(42)
	msg.PushWString([]rune("héllo"))
	require.NoError(t, bus.Publish(ctx, "commands", msg, map[string]string{"trace": "t-1"}))

	select {
	case m := <-got:
		assert.True(t, msg.Equal(m), "got %s", m)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Eventually(t, func() bool { return bus.GetMetrics().Acked == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_GroupCreateError(t *testing.T) {
	mr, client := redisServer(t)
	tr := newTestTransport(t, testConfig(mr.Addr()))
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "not-a-stream", "x", 0).Err())
	_, err := tr.Subscribe(ctx, "not-a-stream", "workers", func(xipc.Delivery) {})
	assert.Error(t, err)
}

func TestNewTransport_Unreachable(t *testing.T) {
	mr, _ := redisServer(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewTransport(testConfig(addr))
	assert.Error(t, err)
}

func TestNewTransport_InvalidConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Group = ""
	_, err := NewTransport(cfg)
	assert.Error(t, err)
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":           "redis:6380",
		"group":          "telemetry",
		"concurrency":    float64(16),
		"batch_size":     int64(64),
		"block":          "2s",
		"start_id":       "0",
		"dead_letter":    "telemetry-dlq",
		"max_len_approx": 10000,
		"claim_min_idle": 30 * time.Second,
		"auto_create":    false,
	})

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, "telemetry", cfg.Group)
	assert.Equal(t, 16, cfg.Concurrency)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Block)
	assert.Equal(t, "0", cfg.StartID)
	assert.Equal(t, "telemetry-dlq", cfg.DeadLetter)
	assert.Equal(t, int64(10000), cfg.MaxLenApprox)
	assert.Equal(t, 30*time.Second, cfg.ClaimMinIdle)
	assert.False(t, cfg.AutoCreate)
	require.NoError(t, cfg.Validate())

	back := ConfigFromMap(cfg.toMap())
	assert.Equal(t, cfg, back)
}

func TestRegisteredTransport(t *testing.T) {
	mr, _ := redisServer(t)
	tr, err := xipc.NewTransport(TransportName, map[string]any{
		"addr":  mr.Addr(),
		"block": "50ms",
	})
	require.NoError(t, err)
	assert.NoError(t, tr.Close(context.Background()))
}

func BenchmarkPublish_Batch(b *testing.B) {
	mr, _ := redisServer(b)
	tr := newTestTransport(b, testConfig(mr.Addr()))
	ctx := context.Background()

	envs := make([]*xipc.Envelope, 100)
	for i := range envs {
		envs[i] = sampleEnvelope(b, i)
	}
	b.ResetTimer()
	for b.Loop() {
		for _, e := range envs {
			e.ID = ""
		}
		if err := tr.Publish(ctx, "bench", envs...); err != nil {
			b.Fatal(err)
		}
	}
}
