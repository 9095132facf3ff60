package redisstream

// Stream entry field names.
const (
	fieldID         = "id"
	fieldEvent      = "event"
	fieldSender     = "sender"
	fieldPayload    = "payload"    // raw codec bytes, no base64
	fieldProducedAt = "producedAt" // unix ns
	fieldMetaPrefix = "meta:"

	// dead-letter only
	fieldOrigTopic = "orig_topic"
	fieldOrigID    = "orig_id"
	fieldError     = "error"
)
