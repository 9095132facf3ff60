package xipc

import (
	"bytes"
	"io"
	"math"
	"unicode/utf16"
)

// Fields up to this size are read in one allocation; larger ones are copied
// in as they arrive so a lying length prefix cannot force a big allocation.
const directReadLimit = 64 << 10

// ReadMessage replaces m with the next message decoded from r. It consumes
// exactly the bytes of one message. On error m is cleared, including its
// header, and should be discarded.
func (l Layout) ReadMessage(r io.Reader, m *EventMessage) error {
	if err := l.Validate(); err != nil {
		return err
	}
	d := newDecoder(r, l)
	if err := d.decodeMessage(m); err != nil {
		m.Event, m.Sender = "", ""
		m.Clear()
		return err
	}
	return nil
}

type decoder struct {
	r       io.Reader
	br      io.ByteReader
	l       Layout
	scratch [8]byte
}

func newDecoder(r io.Reader, l Layout) *decoder {
	d := &decoder{r: r, l: l}
	if br, ok := r.(io.ByteReader); ok {
		d.br = br
	}
	return d
}

func (d *decoder) decodeMessage(m *EventMessage) (err error) {
	m.Clear()

	if m.Event, err = d.readString("event"); err != nil {
		return err
	}
	if m.Sender, err = d.readString("sender"); err != nil {
		return err
	}

	tags, err := d.readTags()
	if err != nil {
		return err
	}
	if len(tags) > 0 {
		m.params = make([]Param, 0, len(tags))
	}

	for i, tag := range tags {
		var p Param
		switch ParamType(tag) {
		case TypeInt:
			v, err := d.readUint32("int parameter")
			if err != nil {
				return err
			}
			p = IntParam(int32(v))
		case TypeFloat:
			v, err := d.readUint32("float parameter")
			if err != nil {
				return err
			}
			p = FloatParam(math.Float32frombits(v))
		case TypeStr:
			s, err := d.readString("string parameter")
			if err != nil {
				return err
			}
			p = StringParam(s)
		case TypeWStr:
			w, err := d.readWide()
			if err != nil {
				return err
			}
			p = Param{typ: TypeWStr, w: w}
		default:
			return &WireTypeError{Index: i, Tag: tag}
		}
		m.params = append(m.params, p)
	}
	return nil
}

func (d *decoder) readFull(field string, p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		return truncated(field, err)
	}
	return nil
}

// truncated wraps a read failure. Every read happens inside a message, so
// a plain EOF is unexpected too.
func truncated(field string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return &TruncatedError{Field: field, Err: err}
}

func (d *decoder) readByte(field string) (byte, error) {
	if d.br != nil {
		b, err := d.br.ReadByte()
		if err != nil {
			return 0, truncated(field, err)
		}
		return b, nil
	}
	if err := d.readFull(field, d.scratch[:1]); err != nil {
		return 0, err
	}
	return d.scratch[0], nil
}

func (d *decoder) readUint32(field string) (uint32, error) {
	if err := d.readFull(field, d.scratch[:4]); err != nil {
		return 0, err
	}
	return d.l.ByteOrder.Uint32(d.scratch[:4]), nil
}

func (d *decoder) readSize(field string) (uint64, error) {
	if d.l.SizeWidth == 4 {
		v, err := d.readUint32(field + " length")
		return uint64(v), err
	}
	if err := d.readFull(field+" length", d.scratch[:8]); err != nil {
		return 0, err
	}
	return d.l.ByteOrder.Uint64(d.scratch[:8]), nil
}

// readBytes reads n bytes, enforcing MaxFieldLen before allocating.
func (d *decoder) readBytes(field string, n uint64) ([]byte, error) {
	limit := d.l.MaxFieldLen
	if limit == 0 || limit > math.MaxInt64 {
		limit = math.MaxInt64
	}
	if n > limit {
		return nil, &LimitError{Field: field, Len: n, Max: limit}
	}
	if n == 0 {
		return nil, nil
	}
	if n <= directReadLimit {
		p := make([]byte, n)
		return p, d.readFull(field, p)
	}

	var buf bytes.Buffer
	buf.Grow(directReadLimit)
	got, err := io.CopyN(&buf, d.r, int64(n))
	if got < int64(n) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, truncated(field, err)
	}
	return buf.Bytes(), nil
}

func (d *decoder) readString(field string) (string, error) {
	n, err := d.readSize(field)
	if err != nil {
		return "", err
	}
	p, err := d.readBytes(field, n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// readTags reads tag bytes up to and including TypeEnd, which is dropped.
// Unknown tags are kept; they are rejected when their payload is resolved.
func (d *decoder) readTags() ([]byte, error) {
	var tags []byte
	for {
		b, err := d.readByte("tag run")
		if err != nil {
			return nil, err
		}
		if ParamType(b) == TypeEnd {
			return tags, nil
		}
		if d.l.MaxParams > 0 && len(tags) >= d.l.MaxParams {
			return nil, &LimitError{Field: "tag run", Len: uint64(len(tags) + 1), Max: uint64(d.l.MaxParams)}
		}
		tags = append(tags, b)
	}
}

func (d *decoder) readWide() ([]rune, error) {
	const field = "wide string parameter"
	n, err := d.readSize(field)
	if err != nil {
		return nil, err
	}
	width := uint64(d.l.WCharWidth)
	if n > math.MaxUint64/width {
		return nil, &LimitError{Field: field, Len: n, Max: math.MaxUint64 / width}
	}
	p, err := d.readBytes(field, n*width)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}

	if width == 2 {
		units := make([]uint16, n)
		for i := range units {
			units[i] = d.l.ByteOrder.Uint16(p[2*i:])
		}
		return utf16.Decode(units), nil
	}
	out := make([]rune, n)
	for i := range out {
		out[i] = rune(d.l.ByteOrder.Uint32(p[4*i:]))
	}
	return out, nil
}
