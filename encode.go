package xipc

import (
	"io"
	"math"
	"unicode/utf16"
)

// WriteMessage encodes m onto w:
//
//	event length, event bytes, sender length, sender bytes,
//	one tag byte per parameter, TypeEnd,
//	each value (int32 | float32 | length+bytes | length+wide chars).
//
// Exactly Size(l) bytes are written, so messages can be written back to back.
func (l Layout) WriteMessage(w io.Writer, m *EventMessage) error {
	if err := l.Validate(); err != nil {
		return err
	}
	e := newEncoder(w, l)
	e.encodeMessage(m)
	return e.err
}

// encoder keeps the first write error and skips everything after it.
type encoder struct {
	w       io.Writer
	l       Layout
	n       int64
	scratch [8]byte
	err     error
}

func newEncoder(w io.Writer, l Layout) *encoder {
	return &encoder{w: w, l: l}
}

func (e *encoder) encodeMessage(m *EventMessage) {
	e.writeString("event", m.Event)
	e.writeString("sender", m.Sender)

	tags := make([]byte, len(m.params)+1)
	for i, p := range m.params {
		tags[i] = byte(p.typ)
	}
	tags[len(m.params)] = byte(TypeEnd)
	e.write(tags)

	for _, p := range m.params {
		switch p.typ {
		case TypeInt:
			e.writeUint32(uint32(p.i))
		case TypeFloat:
			e.writeUint32(math.Float32bits(p.f))
		case TypeStr:
			e.writeString("string parameter", p.s)
		case TypeWStr:
			e.writeWide(p.w)
		}
	}
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	var n int
	n, e.err = e.w.Write(p)
	e.n += int64(n)
}

func (e *encoder) writeUint32(v uint32) {
	e.l.ByteOrder.PutUint32(e.scratch[:4], v)
	e.write(e.scratch[:4])
}

func (e *encoder) writeSize(field string, v uint64) {
	if v > e.l.maxSize() {
		if e.err == nil {
			e.err = &LimitError{Field: field, Len: v, Max: e.l.maxSize()}
		}
		return
	}
	if e.l.SizeWidth == 4 {
		e.writeUint32(uint32(v))
		return
	}
	e.l.ByteOrder.PutUint64(e.scratch[:8], v)
	e.write(e.scratch[:8])
}

func (e *encoder) writeString(field, s string) {
	e.writeSize(field, uint64(len(s)))
	if e.err != nil || len(s) == 0 {
		return
	}
	var n int
	n, e.err = io.WriteString(e.w, s)
	e.n += int64(n)
}

// writeWide writes the character count followed by the characters. With a
// 2-byte wchar the text goes out as UTF-16 code units.
func (e *encoder) writeWide(w []rune) {
	if e.l.WCharWidth == 2 {
		units := utf16.Encode(w)
		e.writeSize("wide string parameter", uint64(len(units)))
		if e.err != nil || len(units) == 0 {
			return
		}
		buf := make([]byte, 2*len(units))
		for i, u := range units {
			e.l.ByteOrder.PutUint16(buf[2*i:], u)
		}
		e.write(buf)
		return
	}

	e.writeSize("wide string parameter", uint64(len(w)))
	if e.err != nil || len(w) == 0 {
		return
	}
	buf := make([]byte, 4*len(w))
	for i, r := range w {
		e.l.ByteOrder.PutUint32(buf[4*i:], uint32(r))
	}
	e.write(buf)
}

// wideUnits is the number of wide characters w occupies at the given width.
func wideUnits(w []rune, width int) int {
	if width != 2 {
		return len(w)
	}
	n := 0
	for _, r := range w {
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
