package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus connects channel adapters to the soul pipeline. Adapters
// push perceptions onto Inbound; the pipeline pushes actions onto
// Actions; DispatchOutbound routes each action to the adapter that
// subscribed under the action's channel name.
type MessageBus struct {
	Inbound chan Perception
	Actions chan Action

	mu       sync.RWMutex
	handlers map[string]func(Action)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 100
	}
	return &MessageBus{
		Inbound:  make(chan Perception, bufSize),
		Actions:  make(chan Action, bufSize),
		handlers: make(map[string]func(Action)),
	}
}

// SubscribeOutbound registers the delivery handler for one channel name.
func (b *MessageBus) SubscribeOutbound(channel string, handler func(Action)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = handler
}

// Dispatch emits one action onto the bus.
func (b *MessageBus) Dispatch(a Action) {
	b.Actions <- a
}

// DispatchOutbound drains the action channel until ctx is done. Actions
// without routable delivery metadata or without a subscribed handler
// are logged and dropped.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case action := <-b.Actions:
			if !action.Meta.Valid() {
				log.Printf("[bus] dropping %s action %s: missing delivery metadata", action.Kind, action.ID)
				action.Discard()
				continue
			}
			b.mu.RLock()
			handler := b.handlers[action.Meta.Channel]
			b.mu.RUnlock()
			if handler == nil {
				log.Printf("[bus] dropping %s action %s: no handler for channel %q", action.Kind, action.ID, action.Meta.Channel)
				action.Discard()
				continue
			}
			handler(action)
		case <-ctx.Done():
			return
		}
	}
}
