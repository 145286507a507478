// Package eventbus provides a simple in-memory pub/sub bus for conversation
// events. The HTTP SSE endpoint and chat channels subscribe to it to receive
// live updates while a turn is streaming.
package eventbus

import (
	"sync"

	"github.com/codesift/codesift/model"
)

// Bus is the interface for publishing and subscribing to conversation events.
type Bus interface {
	// Subscribe returns a channel that receives events for the given conversation.
	Subscribe(conversationID string) <-chan *model.Event

	// Unsubscribe removes a subscriber channel and closes it.
	Unsubscribe(conversationID string, ch <-chan *model.Event)

	// Publish delivers an event to all subscribers of the conversation.
	// It never blocks; slow subscribers miss events.
	Publish(conversationID string, event *model.Event)

	// CloseTopic closes all subscriber channels for a conversation.
	CloseTopic(conversationID string)
}

// InMemoryBus is a Bus backed by per-conversation subscriber lists.
type InMemoryBus struct {
	mu     sync.Mutex
	topics map[string][]chan *model.Event
}

// NewInMemoryBus creates an empty in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{topics: make(map[string][]chan *model.Event)}
}

// Subscribe returns a buffered channel receiving events for the conversation.
func (b *InMemoryBus) Subscribe(conversationID string) <-chan *model.Event {
	ch := make(chan *model.Event, 64)
	b.mu.Lock()
	b.topics[conversationID] = append(b.topics[conversationID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the conversation's subscriber list.
func (b *InMemoryBus) Unsubscribe(conversationID string, ch <-chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[conversationID]
	for i, sub := range subs {
		if sub == ch {
			b.topics[conversationID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(b.topics[conversationID]) == 0 {
		delete(b.topics, conversationID)
	}
}

// Publish sends the event to every subscriber without blocking.
func (b *InMemoryBus) Publish(conversationID string, event *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.topics[conversationID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop rather than stall the publisher.
		}
	}
}

// CloseTopic closes and removes all subscriber channels for the conversation.
func (b *InMemoryBus) CloseTopic(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.topics[conversationID] {
		close(ch)
	}
	delete(b.topics, conversationID)
}
