package xipc

import (
	"errors"
	"sort"
	"sync"
)

// CodecFactory constructs codecs via the Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		CodecBinary:  func() Codec { return BinaryCodec{} },
		CodecJSON:    func() Codec { return JSONCodec{} },
		CodecMsgpack: func() Codec { return MsgpackCodec{} },
	}
)

// RegisterCodec registers a codec factory by name, replacing any previous one.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownCodec{name: name}
	}
	return f(), nil
}

// Codecs lists registered codec names in sorted order.
func Codecs() []string {
	codecRegistryMu.RLock()
	defer codecRegistryMu.RUnlock()
	names := make([]string, 0, len(codecRegistry))
	for n := range codecRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
