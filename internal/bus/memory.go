package bus

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

type memorySubscription struct {
	filter  string
	handler Handler
}

// MemoryBus is an in-process broker with retained last-value semantics. Handlers run
// synchronously on the publishing goroutine, without any bus lock held.
type MemoryBus struct {
	subscriptions []memorySubscription
	retained      map[string][]byte
	published     map[string]int
	closed        bool
	mu            sync.Mutex
}

var _ Bus = &MemoryBus{}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		retained:  make(map[string][]byte),
		published: make(map[string]int),
	}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	payload = slices.Clone(payload)
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = payload
		}
	}
	b.published[topic]++
	targets := make([]Handler, 0)
	for _, sub := range b.subscriptions {
		if TopicMatches(sub.filter, topic) {
			targets = append(targets, sub.handler)
		}
	}
	b.mu.Unlock()

	log.Trace().Str("topic", topic).Bool("retained", retained).Msg("memory bus publish")
	for _, handler := range targets {
		handler(topic, slices.Clone(payload))
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, filters []string, handler Handler) error {
	type delivery struct {
		topic   string
		payload []byte
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	pending := make([]delivery, 0)
	for _, filter := range filters {
		b.subscriptions = append(b.subscriptions, memorySubscription{filter: filter, handler: handler})
		for topic, payload := range b.retained {
			if TopicMatches(filter, topic) {
				pending = append(pending, delivery{topic: topic, payload: slices.Clone(payload)})
			}
		}
	}
	b.mu.Unlock()

	for _, d := range pending {
		handler(d.topic, d.payload)
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = nil
	return nil
}

// Retained returns the retained message of topic, if any.
func (b *MemoryBus) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.retained[topic]
	return slices.Clone(payload), ok
}

// PublishCount returns how many messages were published to topic.
func (b *MemoryBus) PublishCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[topic]
}
