package amqp10

// Sequence numbers in AMQP 1.0 (transfer-id, delivery-id, delivery-count)
// are defined by RFC 1982 to wrap at 2^32 rather than overflow into an
// error. Comparing them with plain < or > breaks the moment a peer runs
// long enough for a counter to wrap, so every comparison in the session
// and link code goes through these helpers instead.

// serialLess reports whether a precedes b under serial-number arithmetic.
func serialLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// serialLessEq reports whether a precedes or equals b under serial-number
// arithmetic.
func serialLessEq(a, b uint32) bool {
	return int32(a-b) <= 0
}

// serialAdd adds a non-negative delta to a serial number, wrapping per
// RFC 1982.
func serialAdd(a uint32, delta uint32) uint32 {
	return a + delta
}

// serialDiff returns b-a as a signed distance, valid as long as the true
// distance between a and b is less than 2^31.
func serialDiff(a, b uint32) int32 {
	return int32(b - a)
}
