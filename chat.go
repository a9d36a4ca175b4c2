package bastion

import (
	"context"
	"time"
)

// MaxMessageLen is the platform message length limit. Longer replies are
// split by the dispatcher before sending.
const MaxMessageLen = 2000

// Event is one incoming chat message.
type Event struct {
	ID         string
	Guild      string
	Channel    string
	Author     string // stable user id
	AuthorName string // display name at send time
	Roles      []string
	Mentions   []Mention
	Content    string
}

// Mention is a user referenced inside a message.
type Mention struct {
	ID   string
	Name string
}

// Transport abstracts the chat platform (Discord, Telegram, a test fake).
type Transport interface {
	// Poll returns a channel of incoming events. Blocks until ctx is cancelled.
	Poll(ctx context.Context) (<-chan Event, error)
	// Send posts text to a channel and returns the message id.
	Send(ctx context.Context, channel, text string) (string, error)
	// SendTTL posts text that the transport deletes after ttl.
	SendTTL(ctx context.Context, channel, text string, ttl time.Duration) (string, error)
	// Delete removes a message.
	Delete(ctx context.Context, channel, msgID string) error
}
