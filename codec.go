package xipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec names registered by default.
const (
	CodecBinary  = "cs-ipc"
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Codec is the Strategy for turning an EventMessage into envelope payload bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// BinaryCodec is the native wire format. A zero Layout means DefaultLayout.
type BinaryCodec struct {
	Layout Layout
}

var (
	_ Codec = BinaryCodec{}
	_ Codec = JSONCodec{}
	_ Codec = MsgpackCodec{}
)

func (c BinaryCodec) layout() Layout {
	if c.Layout.SizeWidth == 0 {
		return DefaultLayout()
	}
	return c.Layout
}

func (c BinaryCodec) Marshal(v any) ([]byte, error) {
	m, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	l := c.layout()
	var buf bytes.Buffer
	buf.Grow(m.Size(l))
	if err := l.WriteMessage(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c BinaryCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*EventMessage)
	if !ok || m == nil {
		return fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
	}
	r := bytes.NewReader(data)
	if err := c.layout().ReadMessage(r, m); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("xipc: %d trailing bytes after message", r.Len())
	}
	return nil
}

func (BinaryCodec) Name() string { return CodecBinary }

// JSONCodec renders messages through EventMessage.MarshalJSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	m, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (JSONCodec) Unmarshal(b []byte, v any) error {
	if _, ok := v.(*EventMessage); !ok {
		return fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
	}
	return json.Unmarshal(b, v)
}

func (JSONCodec) Name() string { return CodecJSON }

// MsgpackCodec is a compact, byte-order independent alternative to the
// native format for consumers on other platforms.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	m, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(m)
}

func (MsgpackCodec) Unmarshal(b []byte, v any) error {
	if _, ok := v.(*EventMessage); !ok {
		return fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
	}
	return msgpack.Unmarshal(b, v)
}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func asMessage(v any) (*EventMessage, error) {
	switch m := v.(type) {
	case *EventMessage:
		if m != nil {
			return m, nil
		}
	case EventMessage:
		return &m, nil
	}
	return nil, fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
}

// Decode unmarshals env.Payload using the Codec injected into ctx by the
// bus, falling back to the native binary codec.
func Decode(ctx context.Context, env *Envelope) (*EventMessage, error) {
	c, ok := CodecFromContext(ctx)
	if !ok {
		c = BinaryCodec{}
	}
	return DecodeCodec(c, env)
}

// DecodeCodec unmarshals env.Payload with c.
func DecodeCodec(c Codec, env *Envelope) (*EventMessage, error) {
	m := &EventMessage{}
	if err := c.Unmarshal(env.Payload, m); err != nil {
		return nil, err
	}
	return m, nil
}
