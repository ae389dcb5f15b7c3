package monitor

import (
	"context"
	"testing"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorTracksDeviceState(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()

	// Retained state published before the monitor starts is picked up on subscribe.
	require.NoError(t, b.Publish(ctx, "data/home/bedroom/light-switchbri",
		[]byte(`{"apartment":"home","location":"bedroom","uuid":"bri","type":"light-switch","sensor":null,"value":"off","timestamp":100}`), true))

	m := NewMonitor(b, "home")
	require.NoError(t, m.Start(ctx))

	state, ok := m.State("bri")
	require.True(t, ok)
	assert.Equal(t, messages.ValueOff, state.Value)

	require.NoError(t, b.Publish(ctx, "data/home/bedroom/light-switchbri",
		[]byte(`{"apartment":"home","location":"bedroom","uuid":"bri","type":"light-switch","value":"on","timestamp":200}`), true))
	state, _ = m.State("bri")
	assert.Equal(t, messages.ValueOn, state.Value)
	assert.Equal(t, int64(200), state.Timestamp)

	// Older reports do not overwrite newer ones.
	require.NoError(t, b.Publish(ctx, "data/home/bedroom/light-switchbri",
		[]byte(`{"apartment":"home","location":"bedroom","uuid":"bri","type":"light-switch","value":"off","timestamp":150}`), false))
	state, _ = m.State("bri")
	assert.Equal(t, messages.ValueOn, state.Value)

	// Malformed values are dropped.
	require.NoError(t, b.Publish(ctx, "data/home/bedroom/light-switchbri",
		[]byte(`{"apartment":"home","location":"bedroom","uuid":"bri","type":"light-switch","value":"dim","timestamp":300}`), false))
	state, _ = m.State("bri")
	assert.Equal(t, int64(200), state.Timestamp)

	// Other apartments are not monitored.
	require.NoError(t, b.Publish(ctx, "data/office/bedroom/light-switchx",
		[]byte(`{"apartment":"office","location":"bedroom","uuid":"x","type":"light-switch","value":"on","timestamp":1}`), false))
	_, ok = m.State("x")
	assert.False(t, ok)

	m.Forget("bri")
	_, ok = m.State("bri")
	assert.False(t, ok)
}
