package xipc

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// portableParam is the self-describing form used by the JSON and
// MessagePack codecs. Only the field named by Type is meaningful.
type portableParam struct {
	Type  string  `json:"type" msgpack:"t"`
	Int   int32   `json:"int,omitempty" msgpack:"i,omitempty"`
	Float float32 `json:"float,omitempty" msgpack:"f,omitempty"`
	Str   string  `json:"str,omitempty" msgpack:"s,omitempty"`
	WStr  []rune  `json:"wstr,omitempty" msgpack:"w,omitempty"`
}

type portableMessage struct {
	Event  string          `json:"event" msgpack:"event"`
	Sender string          `json:"sender" msgpack:"sender"`
	Params []portableParam `json:"params" msgpack:"params"`
}

func (m *EventMessage) portable() portableMessage {
	pm := portableMessage{
		Event:  m.Event,
		Sender: m.Sender,
		Params: make([]portableParam, len(m.params)),
	}
	for i, p := range m.params {
		pp := portableParam{Type: p.typ.String()}
		switch p.typ {
		case TypeInt:
			pp.Int = p.i
		case TypeFloat:
			pp.Float = p.f
		case TypeStr:
			pp.Str = p.s
		case TypeWStr:
			pp.WStr = p.w
		}
		pm.Params[i] = pp
	}
	return pm
}

func (m *EventMessage) fromPortable(pm portableMessage) error {
	m.Event, m.Sender = "", ""
	m.Clear()
	params := make([]Param, 0, len(pm.Params))
	for i, pp := range pm.Params {
		t, err := ParseParamType(pp.Type)
		if err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		switch t {
		case TypeInt:
			params = append(params, IntParam(pp.Int))
		case TypeFloat:
			params = append(params, FloatParam(pp.Float))
		case TypeStr:
			params = append(params, StringParam(pp.Str))
		case TypeWStr:
			params = append(params, WStringParam(pp.WStr))
		}
	}
	m.Event, m.Sender = pm.Event, pm.Sender
	if len(params) > 0 {
		m.params = params
	}
	return nil
}

func (m *EventMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.portable())
}

func (m *EventMessage) UnmarshalJSON(data []byte) error {
	var pm portableMessage
	if err := json.Unmarshal(data, &pm); err != nil {
		return err
	}
	return m.fromPortable(pm)
}

var (
	_ msgpack.CustomEncoder = (*EventMessage)(nil)
	_ msgpack.CustomDecoder = (*EventMessage)(nil)
)

func (m *EventMessage) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(m.portable())
}

func (m *EventMessage) DecodeMsgpack(dec *msgpack.Decoder) error {
	var pm portableMessage
	if err := dec.Decode(&pm); err != nil {
		return err
	}
	return m.fromPortable(pm)
}
