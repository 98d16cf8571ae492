package bus

import (
	"sync"
	"sync/atomic"
)

const defaultTapBuffer = 64

// Subscriber is a named tap on the event stream. Every subscriber receives
// its own copy of each published event, in publish order.
type Subscriber struct {
	Name string
	ch   chan SystemEvent
}

// MessageBus fans system events out to named taps. Publishing never
// blocks: a tap whose buffer is full misses the event and the drop is
// counted.
type MessageBus struct {
	mu        sync.RWMutex
	subs      []*Subscriber
	closed    bool
	closeOnce sync.Once
	bufSize   int
	dropped   atomic.Uint64
	published atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithBuffer(defaultTapBuffer)
}

// NewMessageBusWithBuffer sets the per-tap buffer size.
func NewMessageBusWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultTapBuffer
	}
	return &MessageBus{bufSize: size}
}

// SubscribeSystem creates a named subscriber for system events. The channel
// is closed when the bus closes.
func (mb *MessageBus) SubscribeSystem(name string) <-chan SystemEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan SystemEvent, mb.bufSize)}
	if mb.closed {
		close(sub.ch)
		return sub.ch
	}
	mb.subs = append(mb.subs, sub)
	return sub.ch
}

// PublishSystem publishes a system event to all system subscribers.
func (mb *MessageBus) PublishSystem(event SystemEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.published.Add(1)
	for _, sub := range mb.subs {
		select {
		case sub.ch <- event:
		default:
			mb.dropped.Add(1)
		}
	}
}

// Publish is PublishSystem with the fields spelled out.
func (mb *MessageBus) Publish(source, eventType string, data interface{}) {
	mb.PublishSystem(SystemEvent{Type: eventType, Source: source, Data: data})
}

// Stats reports how many events were published and how many tap
// deliveries were dropped.
func (mb *MessageBus) Stats() (published, dropped uint64) {
	return mb.published.Load(), mb.dropped.Load()
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		defer mb.mu.Unlock()
		mb.closed = true
		for _, sub := range mb.subs {
			close(sub.ch)
		}
		mb.subs = nil
	})
}
