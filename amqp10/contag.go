package amqp10

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const consumerTagPrefix = "ctag-"

// encodeConsumerTag builds the 0-9-1 consumer-tag used when an outgoing
// link subscribes to its queue with Basic.Consume. The tag embeds the link's handle
// as a big-endian uint32 so that a Basic.Deliver or Basic.Cancel arriving
// on the backing channel can be routed back to its link without keeping
// a second lookup table keyed by string.
func encodeConsumerTag(handle uint32) string {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, handle)
	return consumerTagPrefix + string(buf)
}

// decodeConsumerTag recovers the link handle encoded by encodeConsumerTag.
// It fails closed on any tag not produced by this session core, since a
// broker-originated tag (e.g. one a client-side BasicGet chose) was never
// meant to resolve to a handle here.
func decodeConsumerTag(tag string) (handle uint32, ok bool) {
	if !strings.HasPrefix(tag, consumerTagPrefix) {
		return 0, false
	}
	rest := tag[len(consumerTagPrefix):]
	if len(rest) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32([]byte(rest)), true
}

func mustDecodeConsumerTag(tag string) (uint32, error) {
	handle, ok := decodeConsumerTag(tag)
	if !ok {
		return 0, fmt.Errorf("amqp10: consumer tag %q was not issued by this session", tag)
	}
	return handle, nil
}
