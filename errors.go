package xipc

import (
	"errors"
	"fmt"
)

// Message errors. Use errors.Is; the concrete values below carry context.
var (
	ErrIndexOutOfRange  = errors.New("xipc: parameter index out of range")
	ErrTypeMismatch     = errors.New("xipc: parameter type mismatch")
	ErrUnknownWireType  = errors.New("xipc: unknown wire type")
	ErrTruncated        = errors.New("xipc: truncated message")
	ErrFieldTooLarge    = errors.New("xipc: field exceeds size limit")
	ErrUnsupportedParam = errors.New("xipc: unsupported parameter value")
	ErrUnsupportedValue = errors.New("xipc: codec value must be an EventMessage")
	ErrInvalidLayout    = errors.New("xipc: invalid wire layout")
)

// Bus errors.
var (
	ErrBusClosed                   = errors.New("xipc: bus is closed")
	ErrInvalidTopic                = errors.New("xipc: topic must not be empty")
	ErrInvalidMessage              = errors.New("xipc: message must not be nil")
	ErrInvalidEventName            = errors.New("xipc: event name must not be empty")
	ErrInvalidSubscription         = errors.New("xipc: subscription requires topic, group and handler")
	ErrHandlerPanic                = errors.New("xipc: handler panicked")
	ErrNoTransportConfigured       = errors.New("xipc: no transport configured")
	ErrObserverPoolShutdownTimeout = errors.New("xipc: observer pool shutdown timed out")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

type ErrUnknownCodec struct{ name string }

func (e ErrUnknownCodec) Error() string { return fmt.Sprintf("unknown codec: %s", e.name) }

// IndexError reports an accessor index outside [0, Count).
type IndexError struct {
	Index int
	Count int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%v: index %d, count %d", ErrIndexOutOfRange, e.Index, e.Count)
}

func (e *IndexError) Is(target error) bool { return target == ErrIndexOutOfRange }

// TypeError reports a typed get against a parameter of another type.
type TypeError struct {
	Index int
	Want  ParamType
	Got   ParamType
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%v: index %d holds %s, requested %s", ErrTypeMismatch, e.Index, e.Got, e.Want)
}

func (e *TypeError) Is(target error) bool { return target == ErrTypeMismatch }

// WireTypeError reports a tag byte that names no parameter type.
type WireTypeError struct {
	Index int
	Tag   byte
}

func (e *WireTypeError) Error() string {
	return fmt.Sprintf("%v: tag 0x%02x at parameter %d", ErrUnknownWireType, e.Tag, e.Index)
}

func (e *WireTypeError) Is(target error) bool { return target == ErrUnknownWireType }

// TruncatedError reports a source that ended inside Field.
// It matches both ErrTruncated and the underlying read error.
type TruncatedError struct {
	Field string
	Err   error
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("%v: reading %s: %v", ErrTruncated, e.Field, e.Err)
}

func (e *TruncatedError) Unwrap() []error { return []error{ErrTruncated, e.Err} }

// LimitError reports a declared length above the layout's ceiling.
type LimitError struct {
	Field string
	Len   uint64
	Max   uint64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: %s declares %d, limit %d", ErrFieldTooLarge, e.Field, e.Len, e.Max)
}

func (e *LimitError) Is(target error) bool { return target == ErrFieldTooLarge }
