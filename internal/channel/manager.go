package channel

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/bus"
	"github.com/suryadarma/ingat/internal/config"
	"golang.org/x/sync/errgroup"
)

type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	log      zerolog.Logger
}

func NewManager(cfg config.ChannelsConfig, b *bus.MessageBus, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
		log:      log,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b, log)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.register(ch)
	}

	if cfg.WhatsApp.Enabled {
		ch, err := NewWhatsApp(cfg.WhatsApp, b, log)
		if err != nil {
			return nil, fmt.Errorf("init whatsapp channel: %w", err)
		}
		m.register(ch)
	}

	return m, nil
}

func (m *Manager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.log.Error().Err(err).Str("channel", ch.Name()).Msg("outbound send failed")
		}
	})
}

func (m *Manager) StartAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, ch := range m.channels {
		name, ch := name, ch
		g.Go(func() error {
			m.log.Info().Str("channel", name).Msg("starting channel")
			if err := ch.Start(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) StopAll() error {
	for name, ch := range m.channels {
		m.log.Info().Str("channel", name).Msg("stopping channel")
		if err := ch.Stop(); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("stop failed")
		}
	}
	return nil
}

// React forwards a reaction to the named channel.
func (m *Manager) React(channel, chatID, senderID, messageID, emoji string) error {
	ch, ok := m.channels[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	return ch.React(chatID, senderID, messageID, emoji)
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
