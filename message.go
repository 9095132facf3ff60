package xipc

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// EventMessage is the unit carried over the IPC layer: an event name, the
// sender and an ordered list of typed parameters.
//
// The zero value is an empty message. An EventMessage is not safe for
// concurrent mutation; a fully built message may be read concurrently.
type EventMessage struct {
	// Event is the logical event name.
	Event string
	// Sender identifies the originating party.
	Sender string

	params []Param
}

// NewEventMessage returns an empty message named event.
func NewEventMessage(event string) *EventMessage {
	return &EventMessage{Event: event}
}

// ReadEventMessage decodes one message from r using DefaultLayout.
func ReadEventMessage(r io.Reader) (*EventMessage, error) {
	m := &EventMessage{}
	if err := m.Deserialize(r); err != nil {
		return nil, err
	}
	return m, nil
}

// Clear drops every parameter. It is safe to call on an empty message.
// The header fields are left alone.
func (m *EventMessage) Clear() {
	m.params = nil
}

func (m *EventMessage) PushInt(v int32)     { m.params = append(m.params, IntParam(v)) }
func (m *EventMessage) PushFloat(v float32) { m.params = append(m.params, FloatParam(v)) }
func (m *EventMessage) PushString(v string) { m.params = append(m.params, StringParam(v)) }

// PushWString appends a copy of v.
func (m *EventMessage) PushWString(v []rune) { m.params = append(m.params, WStringParam(v)) }

// PushParam appends v, dispatching on its dynamic type. Accepted types are
// int32, float32, string, []rune and Param.
func (m *EventMessage) PushParam(v any) error {
	switch x := v.(type) {
	case int32:
		m.PushInt(x)
	case float32:
		m.PushFloat(x)
	case string:
		m.PushString(x)
	case []rune:
		m.PushWString(x)
	case Param:
		if !x.typ.Valid() {
			return fmt.Errorf("%w: param of type %s", ErrUnsupportedParam, x.typ)
		}
		x.w = cloneRunes(x.w)
		m.params = append(m.params, x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedParam, v)
	}
	return nil
}

func (m *EventMessage) ParamCount() int { return len(m.params) }

func (m *EventMessage) ParameterType(i int) (ParamType, error) {
	p, err := m.Param(i)
	if err != nil {
		return 0, err
	}
	return p.typ, nil
}

// Param returns the parameter at index i.
func (m *EventMessage) Param(i int) (Param, error) {
	if i < 0 || i >= len(m.params) {
		return Param{}, &IndexError{Index: i, Count: len(m.params)}
	}
	p := m.params[i]
	p.w = cloneRunes(p.w)
	return p, nil
}

// Params returns a copy of the parameter list.
func (m *EventMessage) Params() []Param {
	out := make([]Param, len(m.params))
	for i, p := range m.params {
		p.w = cloneRunes(p.w)
		out[i] = p
	}
	return out
}

func (m *EventMessage) typed(i int, want ParamType) (*Param, error) {
	if i < 0 || i >= len(m.params) {
		return nil, &IndexError{Index: i, Count: len(m.params)}
	}
	p := &m.params[i]
	if p.typ != want {
		return nil, &TypeError{Index: i, Want: want, Got: p.typ}
	}
	return p, nil
}

func (m *EventMessage) ParamInt(i int) (int32, error) {
	p, err := m.typed(i, TypeInt)
	if err != nil {
		return 0, err
	}
	return p.i, nil
}

func (m *EventMessage) ParamFloat(i int) (float32, error) {
	p, err := m.typed(i, TypeFloat)
	if err != nil {
		return 0, err
	}
	return p.f, nil
}

func (m *EventMessage) ParamString(i int) (string, error) {
	p, err := m.typed(i, TypeStr)
	if err != nil {
		return "", err
	}
	return p.s, nil
}

// ParamWString returns a copy of the wide text at index i.
func (m *EventMessage) ParamWString(i int) ([]rune, error) {
	p, err := m.typed(i, TypeWStr)
	if err != nil {
		return nil, err
	}
	return cloneRunes(p.w), nil
}

// Serialize writes the message to w using DefaultLayout.
func (m *EventMessage) Serialize(w io.Writer) error {
	return DefaultLayout().WriteMessage(w, m)
}

// Deserialize replaces the message with one decoded from r using
// DefaultLayout. On error the message is left empty and should be discarded.
func (m *EventMessage) Deserialize(r io.Reader) error {
	return DefaultLayout().ReadMessage(r, m)
}

// WriteTo implements io.WriterTo.
func (m *EventMessage) WriteTo(w io.Writer) (int64, error) {
	e := newEncoder(w, DefaultLayout())
	e.encodeMessage(m)
	return e.n, e.err
}

func (m *EventMessage) MarshalBinary() ([]byte, error) {
	l := DefaultLayout()
	var buf bytes.Buffer
	buf.Grow(m.Size(l))
	if err := l.WriteMessage(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data, which must hold exactly one message.
func (m *EventMessage) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	if err := DefaultLayout().ReadMessage(r, m); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("xipc: %d trailing bytes after message", r.Len())
	}
	return nil
}

// Size returns the exact number of bytes l encodes m into.
func (m *EventMessage) Size(l Layout) int {
	n := 2*l.SizeWidth + len(m.Event) + len(m.Sender) + len(m.params) + 1
	for _, p := range m.params {
		switch p.typ {
		case TypeInt, TypeFloat:
			n += 4
		case TypeStr:
			n += l.SizeWidth + len(p.s)
		case TypeWStr:
			n += l.SizeWidth + wideUnits(p.w, l.WCharWidth)*l.WCharWidth
		}
	}
	return n
}

// Equal reports whether both messages carry the same header and parameters.
func (m *EventMessage) Equal(o *EventMessage) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Event != o.Event || m.Sender != o.Sender || len(m.params) != len(o.params) {
		return false
	}
	for i := range m.params {
		if !m.params[i].equal(o.params[i]) {
			return false
		}
	}
	return true
}

func (m *EventMessage) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q from %q [", m.Event, m.Sender)
	for i, p := range m.params {
		if i > 0 {
			b.WriteString(", ")
		}
		p.format(&b)
	}
	b.WriteByte(']')
	return b.String()
}
