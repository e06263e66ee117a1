// Package transport holds the types shared by the messaging channel
// adapters: the inbound update they produce and the adapter contract.
package transport

import (
	"context"
	"time"
)

// Update is one inbound text message, already mapped to a channel-qualified
// sender identity (see package identity).
type Update struct {
	Channel    string
	Sender     string
	Text       string
	MessageID  string
	ReceivedAt time.Time
}

// Adapter is one messaging channel. Start pushes inbound updates into out
// without blocking; when out is full the update is dropped and counted.
// Deliver is the outbound side used by the delivery dispatcher.
type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	Deliver(ctx context.Context, recipient, text string) error
}
