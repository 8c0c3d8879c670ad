package amqp10

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeConsumerTagRoundTrips(t *testing.T) {
	for _, handle := range []uint32{0, 1, 42, 0xFFFFFFFF} {
		tag := encodeConsumerTag(handle)
		require.True(t, len(tag) == len(consumerTagPrefix)+4)

		got, ok := decodeConsumerTag(tag)
		require.True(t, ok)
		require.Equal(t, handle, got)
	}
}

func TestDecodeConsumerTagRejectsForeignTags(t *testing.T) {
	_, ok := decodeConsumerTag("amq.ctag-abcdef")
	require.False(t, ok)

	_, ok = decodeConsumerTag(consumerTagPrefix + "x")
	require.False(t, ok)
}

func TestMustDecodeConsumerTag(t *testing.T) {
	handle, err := mustDecodeConsumerTag(encodeConsumerTag(7))
	require.NoError(t, err)
	require.Equal(t, uint32(7), handle)

	_, err = mustDecodeConsumerTag("not-ours")
	require.Error(t, err)
}
