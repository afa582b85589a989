// Package channel hosts the chat platform adapters. Each adapter turns
// platform events into bus.InboundMessage and delivers replies and
// reactions back out.
package channel

import (
	"context"

	"github.com/suryadarma/ingat/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
	React(chatID, senderID, messageID, emoji string) error
}

// BaseChannel carries the pieces every adapter shares: its name, the
// bus it publishes to, and the sender allowlist. An empty allowlist
// admits everyone.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}
