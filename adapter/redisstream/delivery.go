package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xipc"
)

// delivery implements xipc.Delivery for one stream entry.
type delivery struct {
	t     *Transport
	topic string
	group string
	id    string
	env   *xipc.Envelope

	// the first Ack or Nack wins
	once sync.Once
}

func (d *delivery) Envelope() *xipc.Envelope { return d.env }

func (d *delivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() { err = d.ack(ctx) })
	return err
}

func (d *delivery) ack(ctx context.Context) error {
	if err := d.t.client.XAck(ctx, d.topic, d.group, d.id).Err(); err != nil {
		return err
	}
	d.t.metrics.acked.Add(1)
	if d.t.cfg.AutoDeleteOnAck {
		_ = d.t.client.XDel(ctx, d.topic, d.id).Err()
	}
	return nil
}

// Nack copies the entry to the dead-letter stream and acknowledges the
// original when DeadLetter is set. Without one the entry stays pending and
// the claim loop delivers it again after ClaimMinIdle.
func (d *delivery) Nack(ctx context.Context, reason error) error {
	var err error
	d.once.Do(func() {
		d.t.metrics.nacked.Add(1)
		dl := d.t.cfg.DeadLetter
		if dl == "" {
			return
		}

		values := encodeEnvelope(d.env)
		values[fieldOrigTopic] = d.topic
		values[fieldOrigID] = d.id
		if reason != nil {
			values[fieldError] = reason.Error()
		}
		if err = d.t.client.XAdd(ctx, &redis.XAddArgs{Stream: dl, ID: "*", Values: values}).Err(); err != nil {
			return
		}
		d.t.metrics.deadLettered.Add(1)
		err = d.ack(ctx)
	})
	return err
}

func encodeEnvelope(env *xipc.Envelope) map[string]any {
	vals := make(map[string]any, 5+len(env.Metadata))
	if env.ID != "" {
		vals[fieldID] = env.ID
	}
	vals[fieldEvent] = env.Event
	vals[fieldSender] = env.Sender
	vals[fieldPayload] = env.Payload
	vals[fieldProducedAt] = env.ProducedAt.UnixNano()
	for k, v := range env.Metadata {
		vals[fieldMetaPrefix+k] = v
	}
	return vals
}

// decodeEnvelope rebuilds an envelope from stream entry values. The
// publisher's id field wins over the stream entry ID.
func decodeEnvelope(entryID string, vals map[string]any) *xipc.Envelope {
	env := &xipc.Envelope{ID: entryID, Metadata: map[string]string{}}

	if v, ok := vals[fieldID]; ok {
		if id := asString(v); id != "" {
			env.ID = id
		}
	}
	env.Event = asString(vals[fieldEvent])
	env.Sender = asString(vals[fieldSender])

	switch p := vals[fieldPayload].(type) {
	case []byte:
		env.Payload = p
	case string:
		env.Payload = []byte(p)
	}

	if ns, ok := toInt64(vals[fieldProducedAt]); ok && ns > 0 {
		env.ProducedAt = time.Unix(0, ns)
	}

	for k, v := range vals {
		if key, ok := strings.CutPrefix(k, fieldMetaPrefix); ok {
			env.Metadata[key] = asString(v)
		}
	}
	return env
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
