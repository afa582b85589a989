package bus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "12345"}
	if got := m.SessionKey(); got != "telegram:12345" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestDispatchOutbound_RoutesToSubscriber(t *testing.T) {
	b := NewMessageBus(10, zerolog.Nop())

	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "hi"}

	select {
	case msg := <-got:
		if msg.ChatID != "c1" || msg.Content != "hi" {
			t.Errorf("delivered = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound message not delivered")
	}
}

func TestDispatchOutbound_UnknownChannelDropped(t *testing.T) {
	b := NewMessageBus(10, zerolog.Nop())

	delivered := make(chan OutboundMessage, 2)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		delivered <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "nosuch", Content: "lost"}
	b.Outbound <- OutboundMessage{Channel: "telegram", Content: "kept"}

	select {
	case msg := <-delivered:
		if msg.Content != "kept" {
			t.Errorf("delivered = %+v, unknown-channel message should be dropped", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatch stalled on unknown channel")
	}
}
