package xipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedLayout = Layout{
	SizeWidth:   8,
	WCharWidth:  4,
	ByteOrder:   binary.LittleEndian,
	MaxFieldLen: DefaultMaxFieldLen,
	MaxParams:   DefaultMaxParams,
}

func encode(t *testing.T, l Layout, m *EventMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, l.WriteMessage(&buf, m))
	require.Equal(t, m.Size(l), buf.Len(), "Size must match the encoded length")
	return buf.Bytes()
}

func decode(t *testing.T, l Layout, data []byte) *EventMessage {
	t.Helper()
	m := &EventMessage{}
	r := bytes.NewReader(data)
	require.NoError(t, l.ReadMessage(r, m))
	require.Zero(t, r.Len(), "decoder must consume exactly one message")
	return m
}

func pingMessage() *EventMessage {
	m := NewEventMessage("ping")
	m.Sender = "A"
	m.PushInt(42)
	m.PushString("hi")
	m.PushFloat(3.5)
	return m
}

func TestPingScenario_Bytes(t *testing.T) {
	got := encode(t, fixedLayout, pingMessage())

	var want bytes.Buffer
	put64 := func(v uint64) { _ = binary.Write(&want, binary.LittleEndian, v) }
	put64(4)
	want.WriteString("ping")
	put64(1)
	want.WriteString("A")
	want.Write([]byte{byte(TypeInt), byte(TypeStr), byte(TypeFloat), byte(TypeEnd)})
	_ = binary.Write(&want, binary.LittleEndian, int32(42))
	put64(2)
	want.WriteString("hi")
	_ = binary.Write(&want, binary.LittleEndian, math.Float32bits(3.5))

	assert.Equal(t, want.Bytes(), got)

	m := decode(t, fixedLayout, got)
	assert.Equal(t, "ping", m.Event)
	assert.Equal(t, "A", m.Sender)
	require.Equal(t, 3, m.ParamCount())
	i, err := m.ParamInt(0)
	require.NoError(t, err)
	assert.Equal(t, int32(42), i)
	s, err := m.ParamString(1)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	f, err := m.ParamFloat(2)
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), f)
}

func TestEmptyMessage_RoundTrip(t *testing.T) {
	m := &EventMessage{}
	data := encode(t, fixedLayout, m)
	// two zero lengths and the end tag
	assert.Equal(t, append(make([]byte, 16), byte(TypeEnd)), data)

	got := decode(t, fixedLayout, data)
	assert.True(t, m.Equal(got))
	assert.Zero(t, got.ParamCount())
}

func TestRoundTrip_AllTypes(t *testing.T) {
	layouts := map[string]Layout{
		"default":     DefaultLayout(),
		"le64/wchar4": fixedLayout,
		"be32/wchar2": {SizeWidth: 4, WCharWidth: 2, ByteOrder: binary.BigEndian},
		"le32/wchar4": {SizeWidth: 4, WCharWidth: 4, ByteOrder: binary.LittleEndian},
		"be64/wchar2": {SizeWidth: 8, WCharWidth: 2, ByteOrder: binary.BigEndian},
	}

	m := NewEventMessage("ev\x00ent")
	m.Sender = "sénder"
	m.PushInt(math.MinInt32)
	m.PushInt(math.MaxInt32)
	m.PushFloat(float32(math.Inf(-1)))
	m.PushFloat(-0.125)
	m.PushString("")
	m.PushString(string([]byte{0xff, 0x00, 0x80}))
	m.PushWString(nil)
	m.PushWString([]rune("héllo wörld 🎉"))
	m.PushWString([]rune{0x10FFFF, 'a'})

	for name, l := range layouts {
		t.Run(name, func(t *testing.T) {
			got := decode(t, l, encode(t, l, m))
			assert.True(t, m.Equal(got), "got %s", got)
		})
	}
}

func TestRoundTrip_NaN(t *testing.T) {
	m := NewEventMessage("nan")
	m.PushFloat(float32(math.NaN()))
	got := decode(t, fixedLayout, encode(t, fixedLayout, m))
	f, err := got.ParamFloat(0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(f)))
}

func TestWideChars_UTF16Units(t *testing.T) {
	l := Layout{SizeWidth: 4, WCharWidth: 2, ByteOrder: binary.LittleEndian}
	m := NewEventMessage("w")
	m.PushWString([]rune("a🎉"))
	data := encode(t, l, m)

	// header: 4+1 + 4+0, tags: 2, then count of 3 code units
	off := 4 + 1 + 4 + 2
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[off:]))
	assert.Len(t, data, off+4+3*2)
}

func TestClear(t *testing.T) {
	m := pingMessage()
	m.Clear()
	assert.Zero(t, m.ParamCount())
	assert.Equal(t, "ping", m.Event, "Clear keeps the header")
	m.Clear()
	assert.Zero(t, m.ParamCount())

	var empty EventMessage
	empty.Clear()
	assert.Zero(t, empty.ParamCount())
}

func TestAccessors_Errors(t *testing.T) {
	m := pingMessage()

	_, err := m.ParamFloat(0)
	require.ErrorIs(t, err, ErrTypeMismatch)
	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TypeInt, te.Got)
	assert.Equal(t, TypeFloat, te.Want)

	_, err = m.ParamWString(1)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = m.ParamInt(m.ParamCount())
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Count)

	_, err = m.ParamString(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = m.ParameterType(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	typ, err := m.ParameterType(1)
	require.NoError(t, err)
	assert.Equal(t, TypeStr, typ)
}

func TestPushParam(t *testing.T) {
	m := NewEventMessage("p")
	require.NoError(t, m.PushParam(int32(1)))
	require.NoError(t, m.PushParam(float32(2)))
	require.NoError(t, m.PushParam("three"))
	require.NoError(t, m.PushParam([]rune("four")))
	require.NoError(t, m.PushParam(IntParam(5)))

	assert.ErrorIs(t, m.PushParam(int64(6)), ErrUnsupportedParam)
	assert.ErrorIs(t, m.PushParam(Param{typ: TypeEnd}), ErrUnsupportedParam)
	assert.Equal(t, 5, m.ParamCount())

	vals := make([]any, 0, m.ParamCount())
	for _, p := range m.Params() {
		vals = append(vals, p.Value())
	}
	assert.Equal(t, []any{int32(1), float32(2), "three", []rune("four"), int32(5)}, vals)
}

func TestWString_IsCopied(t *testing.T) {
	src := []rune("abc")
	m := NewEventMessage("w")
	m.PushWString(src)
	src[0] = 'X'

	got, err := m.ParamWString(0)
	require.NoError(t, err)
	assert.Equal(t, []rune("abc"), got)

	got[1] = 'Y'
	again, _ := m.ParamWString(0)
	assert.Equal(t, []rune("abc"), again)
}

func TestDecode_UnknownTag(t *testing.T) {
	data := encode(t, fixedLayout, pingMessage())
	tagOff := 8 + 4 + 8 + 1
	data[tagOff+1] = 9

	m := &EventMessage{}
	err := fixedLayout.ReadMessage(bytes.NewReader(data), m)
	require.ErrorIs(t, err, ErrUnknownWireType)
	var we *WireTypeError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 1, we.Index)
	assert.Equal(t, byte(9), we.Tag)
	assert.Zero(t, m.ParamCount())
	assert.Empty(t, m.Event, "a failed decode clears the header too")
}

func TestDecode_Truncated(t *testing.T) {
	data := encode(t, fixedLayout, pingMessage())
	for cut := 0; cut < len(data); cut++ {
		m := pingMessage()
		err := fixedLayout.ReadMessage(bytes.NewReader(data[:cut]), m)
		require.ErrorIs(t, err, ErrTruncated, "cut at %d", cut)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", cut)
		assert.Zero(t, m.ParamCount())
	}
}

func TestDecode_OneByteReader(t *testing.T) {
	m := pingMessage()
	m.PushWString([]rune("wide"))
	data := encode(t, fixedLayout, m)

	got := &EventMessage{}
	require.NoError(t, fixedLayout.ReadMessage(&oneByteReader{data: data}, got))
	assert.True(t, m.Equal(got))
}

func TestDecode_Limits(t *testing.T) {
	t.Run("field length", func(t *testing.T) {
		l := fixedLayout
		l.MaxFieldLen = 3
		data := encode(t, fixedLayout, pingMessage())
		err := l.ReadMessage(bytes.NewReader(data), &EventMessage{})
		require.ErrorIs(t, err, ErrFieldTooLarge)
		var le *LimitError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "event", le.Field)
		assert.Equal(t, uint64(4), le.Len)
	})

	t.Run("lying length on a short stream", func(t *testing.T) {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.LittleEndian, uint64(1<<20))
		buf.WriteString("short")
		err := fixedLayout.ReadMessage(&buf, &EventMessage{})
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("param count", func(t *testing.T) {
		l := fixedLayout
		l.MaxParams = 2
		data := encode(t, fixedLayout, pingMessage())
		err := l.ReadMessage(bytes.NewReader(data), &EventMessage{})
		assert.ErrorIs(t, err, ErrFieldTooLarge)
	})

	t.Run("encode width overflow", func(t *testing.T) {
		var sink countingWriter
		l := Layout{SizeWidth: 4, WCharWidth: 4, ByteOrder: binary.LittleEndian}
		e := newEncoder(&sink, l)
		e.writeSize("event", 1<<32)
		assert.ErrorIs(t, e.err, ErrFieldTooLarge)
	})
}

func TestWrite_FailingWriter(t *testing.T) {
	data := encode(t, fixedLayout, pingMessage())
	boom := errors.New("boom")
	for limit := 0; limit < len(data); limit++ {
		w := &failingWriter{limit: limit, err: boom}
		err := fixedLayout.WriteMessage(w, pingMessage())
		require.ErrorIs(t, err, boom, "limit %d", limit)
	}
}

func TestWriteTo_CountsBytes(t *testing.T) {
	m := pingMessage()
	var buf bytes.Buffer
	n, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, m.Size(DefaultLayout()), buf.Len())

	got, err := ReadEventMessage(&buf)
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}

func TestBinaryMarshaler(t *testing.T) {
	m := pingMessage()
	data, err := m.MarshalBinary()
	require.NoError(t, err)

	var got EventMessage
	require.NoError(t, got.UnmarshalBinary(data))
	assert.True(t, m.Equal(&got))

	assert.Error(t, got.UnmarshalBinary(append(data, 0)), "trailing bytes")
}

func TestString(t *testing.T) {
	m := pingMessage()
	m.PushWString([]rune("é"))
	assert.Equal(t, `"ping" from "A" [int:42, str:"hi", float:3.5, wstr:"é"]`, m.String())
}

func TestParseParamType(t *testing.T) {
	for _, typ := range []ParamType{TypeInt, TypeFloat, TypeStr, TypeWStr} {
		got, err := ParseParamType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseParamType("end")
	assert.ErrorIs(t, err, ErrUnknownWireType)
	assert.Equal(t, "type(9)", ParamType(9).String())
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

type failingWriter struct {
	limit int
	n     int
	err   error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		k := w.limit - w.n
		w.n = w.limit
		return k, w.err
	}
	w.n += len(p)
	return len(p), nil
}

type countingWriter struct{ n int }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}
