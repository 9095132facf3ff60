// Package redisstream carries xipc envelopes over Redis Streams.
//
// Transport name: "redis-streams"
//
// Each envelope becomes one stream entry with the fields id, event, sender,
// payload (the encoded EventMessage, binary safe), producedAt and one
// meta:<key> field per metadata entry.
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - group: consumer group name (default "xipc")
//   - consumer: consumer name (default "xipc-<host>-<pid>")
//   - concurrency: number of workers (default 8)
//   - batch_size: XREADGROUP COUNT (default 128)
//   - block: XREADGROUP BLOCK duration (default 5s)
//   - start_id: where a new group starts reading, "$" or "0" (default "$")
//   - auto_create: create group/stream if missing (default true)
//   - auto_delete_on_ack: XDEL after XACK (default false)
//   - dead_letter: stream that receives Nacked entries (optional)
//   - max_len_approx: approximate MAXLEN trimming on XADD (optional)
//   - claim_min_idle, claim_interval, claim_batch: reclaim entries left
//     pending longer than claim_min_idle and deliver them again
//
//	bus, _ := xipc.NewBusBuilder().
//	    WithTransport(redisstream.TransportName, map[string]any{
//	        "addr":        "localhost:6379",
//	        "group":       "telemetry",
//	        "concurrency": 16,
//	        "block":       "2s",
//	        "dead_letter": "telemetry-dlq",
//	    }).
//	    Build()
package redisstream
