package source

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means the message (or its channel) no longer exists at the source.
var ErrNotFound = errors.New("message not found")

// Envelope is one inbound message as delivered by a source. Date is UTC.
type Envelope struct {
	ChannelID     int64
	ChannelTitle  string
	ChannelHandle string
	MessageID     int64
	Date          time.Time
	Text          string
}

// Message is the current state of a previously delivered message.
type Message struct {
	Text     string
	EditedAt *time.Time
}

// Fetcher re-reads a single message. Implementations return an error wrapping
// ErrNotFound when the message is gone; any other error is transient.
type Fetcher interface {
	Fetch(ctx context.Context, channelID, messageID int64) (*Message, error)
}

// Handler consumes delivered messages.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}
