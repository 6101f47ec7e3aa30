package budget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitorUnlimited(t *testing.T) {
	m := NewMonitor(0)
	assert.Nil(t, m)
	assert.NoError(t, m.Observe(1_000_000))
	tokens, _ := m.Usage()
	assert.Zero(t, tokens)
	assert.Zero(t, m.Limit())
}

func TestMonitorObserve(t *testing.T) {
	m := NewMonitor(1000)
	require.NoError(t, m.Observe(400))
	require.NoError(t, m.Observe(1000))
	// totals never go backwards
	require.NoError(t, m.Observe(10))
	tokens, _ := m.Usage()
	assert.Equal(t, int64(1000), tokens)

	err := m.Observe(1100)
	require.Error(t, err)
	var exceeded ErrExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "tokens", exceeded.Kind)
	assert.Equal(t, "budget tokens exceeded: usage=1100 tokens limit=1000 tokens", err.Error())
}
