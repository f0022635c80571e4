package channel

import (
	"context"

	"github.com/MurHyun2/discord-study-bot/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel holds what every channel shares. allowFrom restricts where
// commands are accepted; empty means anywhere.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id != "" {
			allow[id] = true
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsAllowed(id string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[id]
}
