package xipc

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

const (
	// DefaultMaxFieldLen bounds any single length-prefixed field on decode.
	DefaultMaxFieldLen = 16 << 20
	// DefaultMaxParams bounds the tag run on decode.
	DefaultMaxParams = 1<<16 - 1
)

// Layout fixes the widths and byte order of the wire format. Producer and
// consumer must agree on it; nothing on the wire records it.
type Layout struct {
	// SizeWidth is the width in bytes of every length field (4 or 8).
	SizeWidth int
	// WCharWidth is the width of one wide character (2 = UTF-16 units, 4 = code points).
	WCharWidth int
	// ByteOrder applies to length fields, ints, floats and wide characters.
	ByteOrder binary.ByteOrder
	// MaxFieldLen caps the byte length of any decoded field (0 = no cap).
	MaxFieldLen uint64
	// MaxParams caps the number of decoded parameters (0 = no cap).
	MaxParams int
}

// DefaultLayout matches what a native producer on this platform writes:
// size_t length fields, the platform wchar_t and native byte order.
func DefaultLayout() Layout {
	wchar := 4
	if runtime.GOOS == "windows" {
		wchar = 2
	}
	return Layout{
		SizeWidth:   strconv.IntSize / 8,
		WCharWidth:  wchar,
		ByteOrder:   binary.NativeEndian,
		MaxFieldLen: DefaultMaxFieldLen,
		MaxParams:   DefaultMaxParams,
	}
}

// Validate checks that the layout can be encoded and decoded.
func (l Layout) Validate() error {
	if l.SizeWidth != 4 && l.SizeWidth != 8 {
		return fmt.Errorf("%w: size width must be 4 or 8, got %d", ErrInvalidLayout, l.SizeWidth)
	}
	if l.WCharWidth != 2 && l.WCharWidth != 4 {
		return fmt.Errorf("%w: wchar width must be 2 or 4, got %d", ErrInvalidLayout, l.WCharWidth)
	}
	if l.ByteOrder == nil {
		return fmt.Errorf("%w: byte order required", ErrInvalidLayout)
	}
	if l.MaxParams < 0 {
		return fmt.Errorf("%w: max params must be >= 0, got %d", ErrInvalidLayout, l.MaxParams)
	}
	return nil
}

func (l Layout) maxSize() uint64 {
	if l.SizeWidth == 4 {
		return 1<<32 - 1
	}
	return 1<<64 - 1
}

// ToMap converts the layout into the generic map accepted by LayoutFromMap,
// so transport configs can embed it.
func (l Layout) ToMap() map[string]any {
	return map[string]any{
		"size_width":    l.SizeWidth,
		"wchar_width":   l.WCharWidth,
		"byte_order":    byteOrderName(l.ByteOrder),
		"max_field_len": l.MaxFieldLen,
		"max_params":    l.MaxParams,
	}
}

// LayoutFromMap reads a layout from a config blob, defaulting missing keys.
func LayoutFromMap(cfg map[string]any) Layout {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case uint64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return d
	}
	getUint64 := func(k string, d uint64) uint64 {
		switch v := cfg[k].(type) {
		case int:
			return uint64(v)
		case int64:
			return uint64(v)
		case uint64:
			return v
		case float64:
			return uint64(v)
		case string:
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				return n
			}
		}
		return d
	}

	l := DefaultLayout()
	l.SizeWidth = getInt("size_width", l.SizeWidth)
	l.WCharWidth = getInt("wchar_width", l.WCharWidth)
	if v, ok := cfg["byte_order"].(string); ok {
		if bo, err := ParseByteOrder(v); err == nil {
			l.ByteOrder = bo
		}
	}
	l.MaxFieldLen = getUint64("max_field_len", l.MaxFieldLen)
	l.MaxParams = getInt("max_params", l.MaxParams)
	return l
}

// ParseByteOrder accepts "little", "big" or "native" (case-insensitive).
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.TrimRight(strings.TrimSuffix(strings.ToLower(s), "endian"), "-_ ") {
	case "little":
		return binary.LittleEndian, nil
	case "big":
		return binary.BigEndian, nil
	case "native", "":
		return binary.NativeEndian, nil
	}
	return nil, fmt.Errorf("%w: unknown byte order %q", ErrInvalidLayout, s)
}

func byteOrderName(bo binary.ByteOrder) string {
	switch bo {
	case binary.LittleEndian:
		return "little"
	case binary.BigEndian:
		return "big"
	}
	return "native"
}
