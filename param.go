package xipc

import (
	"fmt"
	"strings"
)

// ParamType is the wire tag identifying which value a parameter holds.
type ParamType uint8

const (
	TypeInt ParamType = iota
	TypeFloat
	TypeStr
	TypeWStr
	// TypeEnd terminates the tag run on the wire. It is never a parameter's type.
	TypeEnd
)

var paramTypeNames = [...]string{
	TypeInt:   "int",
	TypeFloat: "float",
	TypeStr:   "str",
	TypeWStr:  "wstr",
	TypeEnd:   "end",
}

func (t ParamType) String() string {
	if int(t) < len(paramTypeNames) {
		return paramTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t can be stored as a parameter type.
func (t ParamType) Valid() bool { return t <= TypeWStr }

// ParseParamType maps a name produced by String back to its tag.
func ParseParamType(s string) (ParamType, error) {
	for i, name := range paramTypeNames[:TypeEnd] {
		if strings.EqualFold(s, name) {
			return ParamType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWireType, s)
}

// Param is one typed parameter. The tag and the value live in the same
// entry, so a Param can only be read as the type it was built with.
type Param struct {
	typ ParamType
	i   int32
	f   float32
	s   string
	w   []rune
}

// IntParam, FloatParam, StringParam and WStringParam build parameters.
func IntParam(v int32) Param     { return Param{typ: TypeInt, i: v} }
func FloatParam(v float32) Param { return Param{typ: TypeFloat, f: v} }
func StringParam(v string) Param { return Param{typ: TypeStr, s: v} }

// WStringParam copies v; later changes to v do not affect the parameter.
func WStringParam(v []rune) Param { return Param{typ: TypeWStr, w: cloneRunes(v)} }

func (p Param) Type() ParamType { return p.typ }

// Int returns the value and true when p holds an int.
func (p Param) Int() (int32, bool) { return p.i, p.typ == TypeInt }

func (p Param) Float() (float32, bool) { return p.f, p.typ == TypeFloat }

func (p Param) Str() (string, bool) { return p.s, p.typ == TypeStr }

// WStr returns a copy of the wide text.
func (p Param) WStr() ([]rune, bool) {
	if p.typ != TypeWStr {
		return nil, false
	}
	return cloneRunes(p.w), true
}

// Value returns the payload boxed as int32, float32, string or []rune.
func (p Param) Value() any {
	switch p.typ {
	case TypeInt:
		return p.i
	case TypeFloat:
		return p.f
	case TypeStr:
		return p.s
	default:
		return cloneRunes(p.w)
	}
}

func (p Param) equal(o Param) bool {
	if p.typ != o.typ {
		return false
	}
	switch p.typ {
	case TypeInt:
		return p.i == o.i
	case TypeFloat:
		return p.f == o.f
	case TypeStr:
		return p.s == o.s
	default:
		if len(p.w) != len(o.w) {
			return false
		}
		for i := range p.w {
			if p.w[i] != o.w[i] {
				return false
			}
		}
		return true
	}
}

func (p Param) format(b *strings.Builder) {
	b.WriteString(p.typ.String())
	b.WriteByte(':')
	switch p.typ {
	case TypeInt:
		fmt.Fprintf(b, "%d", p.i)
	case TypeFloat:
		fmt.Fprintf(b, "%g", p.f)
	case TypeStr:
		fmt.Fprintf(b, "%q", p.s)
	default:
		fmt.Fprintf(b, "%q", string(p.w))
	}
}

// cloneRunes returns nil for empty input so that pushed and decoded
// messages compare equal.
func cloneRunes(v []rune) []rune {
	if len(v) == 0 {
		return nil
	}
	out := make([]rune, len(v))
	copy(out, v)
	return out
}
