package channel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/MurHyun2/discord-study-bot/internal/bus"
	"github.com/MurHyun2/discord-study-bot/internal/config"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

// ManagerOptions overrides how channels are constructed (for testing).
type ManagerOptions struct {
	SessionFactory SessionFactory
	BotFactory     BotFactory
}

type ChannelManager struct {
	channels map[string]Channel
	discord  *DiscordChannel
	bus      *bus.MessageBus
}

func NewChannelManager(cfg *config.Config, parser *ledger.Parser, loc *time.Location, b *bus.MessageBus) (*ChannelManager, error) {
	return NewChannelManagerWithOptions(cfg, parser, loc, b, ManagerOptions{})
}

func NewChannelManagerWithOptions(cfg *config.Config, parser *ledger.Parser, loc *time.Location, b *bus.MessageBus, opts ManagerOptions) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	sf := opts.SessionFactory
	if sf == nil {
		sf = defaultSessionFactory
	}
	dc, err := NewDiscordChannelWithFactory(cfg.Discord, parser, loc, b, sf)
	if err != nil {
		return nil, fmt.Errorf("init discord channel: %w", err)
	}
	m.discord = dc
	m.register(dc)

	if cfg.Telegram.Enabled {
		bf := opts.BotFactory
		if bf == nil {
			bf = defaultBotFactory
		}
		ch, err := NewTelegramChannelWithFactory(cfg.Telegram, b, bf)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.register(ch)
	}

	return m, nil
}

func (m *ChannelManager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	if m.bus == nil {
		return
	}
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("[channel-mgr] send to %s failed: %v", ch.Name(), err)
		}
	})
}

// Discord returns the study channel adapter.
func (m *ChannelManager) Discord() *DiscordChannel {
	return m.discord
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
