package xipc

import (
	"time"
)

// Envelope is what transports move around. Payload holds the encoded
// EventMessage; Event and Sender repeat its header so transports and
// observers can route and log without decoding.
type Envelope struct {
	// ID is a unique identifier (the transport may assign it).
	ID string
	// Event is the message's event name.
	Event string
	// Sender is the message's sender.
	Sender string
	// Payload is the codec output for the message.
	Payload []byte
	// Metadata carries headers such as tracing or tenancy.
	Metadata map[string]string
	// ProducedAt is stamped from the bus clock at publish time.
	ProducedAt time.Time
}
