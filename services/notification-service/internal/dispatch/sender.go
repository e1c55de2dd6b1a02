package dispatch

import "context"

// Message is what a sender puts on the wire. Rendering happens in the
// dispatcher so senders stay transport-only.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Metadata  map[string]string
}

// Sender delivers one message over one channel. Implementations must be
// safe for concurrent use and should honor ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NoopSender accepts everything without delivering it. Used in tests and
// for channels that are configured but not yet backed by a provider.
type NoopSender struct{}

func (NoopSender) Send(context.Context, Message) error { return nil }
