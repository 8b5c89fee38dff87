package channel

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

// NewChannelManager builds the enabled adapters and subscribes each
// one's Deliver to the outbound side of the bus. onSelf receives the
// mention token of each channel once its platform identity is known.
func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus, painter Painter, onSelf func(channel, mention string)) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b, painter)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		if onSelf != nil {
			ch.OnSelf = func(mention string) { onSelf(ch.Name(), mention) }
		}
		m.register(ch)
	}

	return m, nil
}

func (m *ChannelManager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(action bus.Action) {
		if err := ch.Deliver(action); err != nil {
			log.Printf("[channel-mgr] deliver %s to %s failed: %v", action.Kind, ch.Name(), err)
			action.Discard()
		}
	})
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
	return names
}
