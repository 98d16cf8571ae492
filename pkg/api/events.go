// Event bridge: wires the message bus into the WebSocket hub so every
// lifecycle event published by the relay reaches connected frontends.
package api

import (
	"context"

	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/logger"
)

// EventBridge connects the message bus to the WebSocket hub for live updates.
type EventBridge struct {
	bus *bus.MessageBus
	hub *WSHub
}

// NewEventBridge creates a bridge that forwards bus events to WebSocket clients.
func NewEventBridge(mb *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: mb, hub: hub}
}

// Run subscribes to the bus before returning, so no event published after
// Run is missed, and forwards in the background until ctx is cancelled or
// the bus closes.
func (eb *EventBridge) Run(ctx context.Context) {
	tap := eb.bus.SubscribeSystem("event-bridge")
	logger.DebugC("events", "Event bridge started")
	go eb.forward(ctx, tap)
}

func (eb *EventBridge) forward(ctx context.Context, tap <-chan bus.SystemEvent) {
	for {
		select {
		case <-ctx.Done():
			logger.DebugC("events", "Event bridge stopped")
			return
		case evt, ok := <-tap:
			if !ok {
				return
			}
			eb.hub.Broadcast(evt.Type, evt.Data)
		}
	}
}
