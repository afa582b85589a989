package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MessageBus connects channels to the gateway. Inbound carries user
// messages toward the buffer; Outbound carries replies back to the
// channel that owns the chat.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string]func(OutboundMessage)
	log  zerolog.Logger
}

func NewMessageBus(size int, log zerolog.Logger) *MessageBus {
	if size <= 0 {
		size = 100
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, size),
		Outbound: make(chan OutboundMessage, size),
		subs:     make(map[string]func(OutboundMessage)),
		log:      log,
	}
}

// SubscribeOutbound registers the sender for one channel name.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = fn
}

// DispatchOutbound routes outbound messages to their channel until ctx ends.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn, ok := b.subs[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				b.log.Warn().Str("channel", msg.Channel).Msg("no outbound subscriber")
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}
