package xipc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
)

// StreamWriter writes messages back to back onto one byte stream.
// It is safe for concurrent use; each message is written whole.
type StreamWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	layout Layout
}

// NewStreamWriter buffers writes to w. Call Flush to push them out.
func NewStreamWriter(w io.Writer, l Layout) (*StreamWriter, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &StreamWriter{w: bufio.NewWriter(w), layout: l}, nil
}

// Write encodes m onto the stream.
func (sw *StreamWriter) Write(m *EventMessage) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	e := newEncoder(sw.w, sw.layout)
	e.encodeMessage(m)
	return e.err
}

// WriteRaw copies an already encoded message onto the stream.
func (sw *StreamWriter) WriteRaw(p []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	_, err := sw.w.Write(p)
	return err
}

func (sw *StreamWriter) Flush() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w.Flush()
}

// StreamReader reads messages written back to back on one byte stream.
// It is not safe for concurrent use.
type StreamReader struct {
	r      *bufio.Reader
	layout Layout
	raw    bytes.Buffer
}

func NewStreamReader(r io.Reader, l Layout) (*StreamReader, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &StreamReader{r: bufio.NewReader(r), layout: l}, nil
}

// Next decodes the next message. It returns io.EOF when the stream ends
// cleanly between messages and ErrTruncated when it ends inside one.
func (sr *StreamReader) Next() (*EventMessage, error) {
	if err := sr.atBoundary(); err != nil {
		return nil, err
	}
	m := &EventMessage{}
	if err := sr.layout.ReadMessage(sr.r, m); err != nil {
		return nil, err
	}
	return m, nil
}

// NextRaw is Next that also returns the exact bytes the message occupied.
// The returned slice is owned by the caller.
func (sr *StreamReader) NextRaw() (*EventMessage, []byte, error) {
	if err := sr.atBoundary(); err != nil {
		return nil, nil, err
	}
	sr.raw.Reset()
	m := &EventMessage{}
	tee := &teeByteReader{r: sr.r, w: &sr.raw}
	if err := sr.layout.ReadMessage(tee, m); err != nil {
		return nil, nil, err
	}
	return m, bytes.Clone(sr.raw.Bytes()), nil
}

func (sr *StreamReader) atBoundary() error {
	if _, err := sr.r.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	return nil
}

// teeByteReader records everything read through it, byte reads included.
type teeByteReader struct {
	r *bufio.Reader
	w *bytes.Buffer
}

func (t *teeByteReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.w.Write(p[:n])
	return n, err
}

func (t *teeByteReader) ReadByte() (byte, error) {
	b, err := t.r.ReadByte()
	if err == nil {
		t.w.WriteByte(b)
	}
	return b, err
}
