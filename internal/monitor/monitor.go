package monitor

import (
	"context"
	"sync"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/core/service"
	"github.com/ManyThreads/horme/internal/bus"
	"github.com/rs/zerolog/log"
)

// Monitor records the last device state every service of the apartment reported.
type Monitor struct {
	bus    bus.Bus
	filter string

	states map[service.UUID]messages.DeviceMessage
	mu     sync.RWMutex
}

func NewMonitor(b bus.Bus, apartment string) *Monitor {
	return &Monitor{
		bus:    b,
		filter: service.DataTopicFilter(apartment),
		states: make(map[service.UUID]messages.DeviceMessage),
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	return m.bus.Subscribe(ctx, []string{m.filter}, m.consume)
}

func (m *Monitor) consume(topic string, payload []byte) {
	msg, err := messages.ParseDevice(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("dropping malformed device message")
		return
	}

	m.mu.Lock()
	prev, seen := m.states[msg.UUID]
	if seen && prev.Timestamp > msg.Timestamp {
		m.mu.Unlock()
		return
	}
	m.states[msg.UUID] = msg
	m.mu.Unlock()

	if !seen || prev.Value != msg.Value {
		log.Debug().Str("uuid", msg.UUID).Str("type", msg.Type).Str("location", msg.Location).Msgf("device state %s", msg.Value)
	}
}

// State returns the last reported state of uuid.
func (m *Monitor) State(uuid service.UUID) (messages.DeviceMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.states[uuid]
	return msg, ok
}

// Forget drops the state of a removed service.
func (m *Monitor) Forget(uuid service.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, uuid)
}
