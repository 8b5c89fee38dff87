// Package channel holds the platform adapters. An adapter normalizes
// platform events into perceptions and delivers the pipeline's actions
// back to the platform.
package channel

import (
	"context"

	"github.com/lunalinkco/aster/internal/bus"
)

// Painter generates an image from a prompt and returns its URL.
// Implemented by the paint client; injected so adapters stay
// platform-only.
type Painter interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Deliver executes one outbound action addressed to this channel.
	Deliver(action bus.Action) error
}

// BaseChannel carries the shared adapter state: the bus to push
// perceptions onto and the sender allow-list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	base := BaseChannel{name: name, bus: b}
	if len(allowFrom) > 0 {
		base.allowFrom = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			base.allowFrom[id] = struct{}{}
		}
	}
	return base
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether the sender passes the allow-list. An empty
// list allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if c.allowFrom == nil {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}
