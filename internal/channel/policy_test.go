package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rudp/engine"
)

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	require.Equal(t, 2, p.Len())

	f, err := p.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, engine.Reliable, f)

	f, err = p.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, engine.Unreliable, f)
}

func TestResolveOutOfRange(t *testing.T) {
	p := Default()
	for _, i := range []int{-1, 2, 255, 1 << 20} {
		_, err := p.Resolve(i)
		assert.ErrorIs(t, err, ErrOutOfRange, "index %d", i)
	}
}

func TestParse(t *testing.T) {
	p, err := Parse([]string{"reliable", "unreliable", "unsequenced"})
	require.NoError(t, err)
	assert.Equal(t, []engine.DeliveryFlag{engine.Reliable, engine.Unreliable, engine.Unsequenced}, p.Flags())

	_, err = Parse([]string{"reliable", "sometimes"})
	assert.ErrorContains(t, err, "channel 1")

	_, err = Parse(nil)
	assert.Error(t, err)
}

func TestNewPolicyLimits(t *testing.T) {
	_, err := NewPolicy(make([]engine.DeliveryFlag, engine.MaxChannels+1)...)
	assert.Error(t, err)

	p, err := NewPolicy(make([]engine.DeliveryFlag, engine.MaxChannels)...)
	require.NoError(t, err)
	assert.Equal(t, engine.MaxChannels, p.Len())
}

func TestFlagsIsACopy(t *testing.T) {
	p := Default()
	flags := p.Flags()
	flags[0] = engine.Unsequenced

	f, err := p.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, engine.Reliable, f)
}
