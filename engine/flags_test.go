package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeliveryFlag(t *testing.T) {
	cases := map[string]DeliveryFlag{
		"reliable":              Reliable,
		"Unreliable":            Unreliable,
		" unsequenced ":         Unsequenced,
		"unreliable-fragmented": UnreliableFragmented,
		"UNRELIABLE_FRAGMENTED": UnreliableFragmented,
	}
	for in, want := range cases {
		got, err := ParseDeliveryFlag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDeliveryFlag("ordered-ish")
	assert.Error(t, err)
}

func TestDeliveryFlagSemantics(t *testing.T) {
	assert.True(t, Reliable.IsReliable())
	assert.True(t, Reliable.IsOrdered())
	assert.False(t, Unreliable.IsReliable())
	assert.True(t, Unreliable.IsOrdered())
	assert.False(t, Unsequenced.IsOrdered())
	assert.Equal(t, "flag(6)", (Unsequenced | 4).String())
}

func TestDeliveryFlagText(t *testing.T) {
	var f DeliveryFlag
	require.NoError(t, f.UnmarshalText([]byte("unsequenced")))
	assert.Equal(t, Unsequenced, f)

	text, err := Reliable.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "reliable", string(text))

	assert.Error(t, f.UnmarshalText([]byte("nope")))
}

func TestHostConfigValidate(t *testing.T) {
	ok := HostConfig{Channels: []DeliveryFlag{Reliable}, MaxPeers: 1}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Channels = nil
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Channels = make([]DeliveryFlag, MaxChannels+1)
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Port = 70000
	assert.Error(t, bad.Validate())

	bad = ok
	bad.MaxPeers = 0
	assert.Error(t, bad.Validate())
}
