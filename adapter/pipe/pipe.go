// Package pipe carries EventMessages over a plain byte stream such as an OS
// pipe, a unix socket or a TCP connection. Messages are written back to back
// in the native binary format with no extra framing, so a bus using this
// transport must use the "cs-ipc" codec with the same Layout.
//
// Transport name: "pipe"
//
// A stream has no topics: Publish ignores the topic and Subscribe accepts
// any, but only one subscription may read a stream. Ack and Nack are local;
// there is nothing to redeliver from.
package pipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xipc"
	"github.com/trickstertwo/xlog"
)

const TransportName = "pipe"

var (
	ErrClosed            = errors.New("xipc/pipe: transport is closed")
	ErrAlreadySubscribed = errors.New("xipc/pipe: stream already has a subscriber")
	ErrNoReader          = errors.New("xipc/pipe: transport has no read side")
	ErrNoWriter          = errors.New("xipc/pipe: transport has no write side")
)

func init() {
	if err := xipc.RegisterTransport(TransportName, func(cfg map[string]any) (xipc.Transport, error) {
		return Dial(context.Background(), ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xipc/pipe: failed to register transport: %w", err))
	}
}

// Transport reads and writes EventMessages on one byte stream.
type Transport struct {
	cfg    Config
	r      io.Reader
	w      io.Writer
	sw     *xipc.StreamWriter
	logger *xlog.Logger
	clock  xclock.Clock

	subscribed atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}

	errMu   sync.Mutex
	readErr error

	metrics transportMetrics
}

type transportMetrics struct {
	written    atomic.Uint64
	read       atomic.Uint64
	acked      atomic.Uint64
	nacked     atomic.Uint64
	rejected   atomic.Uint64
	readErrors atomic.Uint64
}

var _ xipc.Transport = (*Transport)(nil)

// NewTransport wraps r and w. Either may be nil for a one-way stream.
// Closing the transport closes whichever of them implement io.Closer.
func NewTransport(r io.Reader, w io.Writer, cfg Config) (*Transport, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:    cfg,
		r:      r,
		w:      w,
		logger: cfg.Logger,
		clock:  cfg.Clock,
		done:   make(chan struct{}),
	}
	if t.logger == nil {
		t.logger = xlog.Default()
	}
	if t.clock == nil {
		t.clock = xclock.Default()
	}
	if w != nil {
		sw, err := xipc.NewStreamWriter(w, cfg.Layout)
		if err != nil {
			return nil, err
		}
		t.sw = sw
	}
	return t, nil
}

// Dial connects to cfg.Network/cfg.Addr and uses the connection both ways.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("xipc/pipe: addr required")
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, cfg.Network, cfg.Addr)
	if err != nil {
		return nil, err
	}
	t, err := NewTransport(conn, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return t, nil
}

// Publish writes each envelope payload onto the stream and flushes. Every
// payload must decode as exactly one message in the transport Layout;
// anything else would corrupt the stream for the reader, so the whole call
// is rejected before a byte is written.
func (t *Transport) Publish(_ context.Context, _ string, envs ...*xipc.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.sw == nil {
		return ErrNoWriter
	}
	for i, env := range envs {
		if env == nil {
			continue
		}
		if err := t.checkPayload(env.Payload); err != nil {
			t.metrics.rejected.Add(1)
			return fmt.Errorf("xipc/pipe: envelope %d: %w", i, err)
		}
	}

	n := 0
	for _, env := range envs {
		if env == nil {
			continue
		}
		if env.ID == "" {
			env.ID = uuid.NewString()
		}
		if err := t.sw.WriteRaw(env.Payload); err != nil {
			return err
		}
		n++
	}
	if err := t.sw.Flush(); err != nil {
		return err
	}
	t.metrics.written.Add(uint64(n))
	return nil
}

func (t *Transport) checkPayload(p []byte) error {
	r := bytes.NewReader(p)
	var m xipc.EventMessage
	if err := t.cfg.Layout.ReadMessage(r, &m); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after message", r.Len())
	}
	return nil
}

// Subscribe starts reading the stream. Topic and group are ignored. The
// handler runs on the reader goroutine, one message at a time, in stream
// order. Reading stops at a clean end of stream, on the first decode error
// (the stream cannot be resynchronised) or when the subscription closes.
func (t *Transport) Subscribe(ctx context.Context, topic, _ string, handler func(xipc.Delivery)) (xipc.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.r == nil {
		return nil, ErrNoReader
	}
	if !t.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}
	sr, err := xipc.NewStreamReader(t.r, t.cfg.Layout)
	if err != nil {
		return nil, err
	}

	innerCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(t.done)
		t.readLoop(innerCtx, topic, sr, handler)
	}()
	go func() {
		// a blocked read only returns once the stream is closed
		select {
		case <-innerCtx.Done():
			t.closeReader()
		case <-t.done:
		}
	}()

	var once sync.Once
	return &subscription{close: func() error {
		once.Do(func() {
			cancel()
			<-t.done
		})
		return nil
	}}, nil
}

func (t *Transport) readLoop(ctx context.Context, topic string, sr *xipc.StreamReader, handler func(xipc.Delivery)) {
	lg := t.logger.With(xlog.Str("transport", TransportName), xlog.Str("topic", topic))
	for {
		m, raw, err := sr.NextRaw()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || t.closed.Load() {
				lg.Debug().Msg("xipc/pipe: stream ended")
				return
			}
			t.metrics.readErrors.Add(1)
			t.errMu.Lock()
			t.readErr = err
			t.errMu.Unlock()
			lg.Warn().Err(err).Msg("xipc/pipe: stream read failed")
			return
		}
		t.metrics.read.Add(1)
		handler(&delivery{t: t, env: &xipc.Envelope{
			ID:         uuid.NewString(),
			Event:      m.Event,
			Sender:     m.Sender,
			Payload:    raw,
			ProducedAt: t.clock.Now(),
		}})
	}
}

// Done is closed when the subscription's reader stops.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err returns the error that stopped the reader, or nil after a clean end.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.readErr
}

// Close flushes pending writes and closes both sides of the stream.
func (t *Transport) Close(_ context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.sw != nil {
			err = t.sw.Flush()
		}
		if c, ok := t.w.(io.Closer); ok {
			err = errors.Join(err, ignoreClosed(c.Close()))
		}
		t.closeReader()
	})
	return err
}

func (t *Transport) closeReader() {
	if c, ok := t.r.(io.Closer); ok {
		_ = c.Close()
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Written    uint64
	Read       uint64
	Acked      uint64
	Nacked     uint64
	Rejected   uint64
	ReadErrors uint64
}

func (t *Transport) Stats() Stats {
	return Stats{
		Written:    t.metrics.written.Load(),
		Read:       t.metrics.read.Load(),
		Acked:      t.metrics.acked.Load(),
		Nacked:     t.metrics.nacked.Load(),
		Rejected:   t.metrics.rejected.Load(),
		ReadErrors: t.metrics.readErrors.Load(),
	}
}

type subscription struct {
	close func() error
}

func (s *subscription) Close() error { return s.close() }

type delivery struct {
	t    *Transport
	env  *xipc.Envelope
	once sync.Once
}

func (d *delivery) Envelope() *xipc.Envelope { return d.env }

func (d *delivery) Ack(_ context.Context) error {
	d.once.Do(func() { d.t.metrics.acked.Add(1) })
	return nil
}

// Nack only counts; the bytes are gone from the stream.
func (d *delivery) Nack(_ context.Context, _ error) error {
	d.once.Do(func() { d.t.metrics.nacked.Add(1) })
	return nil
}

// Config controls the pipe transport.
type Config struct {
	// Layout must match the peer's.
	Layout xipc.Layout
	// Network and Addr are used by Dial and the registered factory.
	Network     string
	Addr        string
	DialTimeout time.Duration

	// Logger and Clock are not part of the map form.
	Logger *xlog.Logger
	Clock  xclock.Clock
}

func Defaults() Config {
	return Config{
		Layout:      xipc.DefaultLayout(),
		Network:     "unix",
		DialTimeout: 5 * time.Second,
	}
}

// ConfigFromMap reads network, addr, dial_timeout and the layout keys
// understood by xipc.LayoutFromMap.
func ConfigFromMap(cfg map[string]any) Config {
	c := Defaults()
	c.Layout = xipc.LayoutFromMap(cfg)
	if v, ok := cfg["network"].(string); ok && v != "" {
		c.Network = v
	}
	if v, ok := cfg["addr"].(string); ok {
		c.Addr = v
	}
	switch v := cfg["dial_timeout"].(type) {
	case time.Duration:
		c.DialTimeout = v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			c.DialTimeout = d
		}
	}
	return c
}

func (c Config) toMap() map[string]any {
	m := c.Layout.ToMap()
	m["network"] = c.Network
	m["addr"] = c.Addr
	m["dial_timeout"] = c.DialTimeout
	return m
}
