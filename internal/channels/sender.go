// Package channels provides the delivery transports behind each
// notification channel. The delivery router treats every sender as an
// opaque collaborator: a payload goes in, success or failure comes out.
package channels

import (
	"context"

	"github.com/adamstosho/grochain/internal/models"
)

// Payload is the channel-agnostic notification content handed to a sender.
type Payload struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Sender delivers a payload to one user over one channel.
type Sender interface {
	Send(ctx context.Context, user models.User, payload Payload) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, user models.User, payload Payload) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, user models.User, payload Payload) error {
	return f(ctx, user, payload)
}

// Senders maps channel identifiers to their transport. The live channel is
// not represented here; it routes through the connection registry.
type Senders map[string]Sender
