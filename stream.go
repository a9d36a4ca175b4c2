package bastion

import (
	"context"
	"time"
)

// SchemaJournal is the only schema the ingester interprets.
const SchemaJournal = "journal/1"

// RawMessage is one decoded message from the streaming game-event source.
// Raw carries the verbatim wire bytes for the per-schema journal logs.
type RawMessage struct {
	SchemaRef string
	Header    MessageHeader
	Message   map[string]any
	Raw       []byte
}

// MessageHeader is the envelope metadata the ingester cares about.
type MessageHeader struct {
	SoftwareName     string
	GatewayTimestamp string
}

// Timestamp parses the gateway timestamp, falling back when it is
// absent or malformed.
func (m RawMessage) Timestamp(fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, m.Header.GatewayTimestamp)
	if err != nil {
		return fallback
	}
	return t
}

// Stream is a subscription to the game-event feed.
type Stream interface {
	// Subscribe returns a channel of decoded messages. The channel closes
	// when the subscription is lost; callers reconnect with backoff.
	Subscribe(ctx context.Context) (<-chan RawMessage, error)
}
