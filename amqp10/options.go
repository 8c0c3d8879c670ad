package amqp10

import "github.com/israelio/rabbit-go-client/rabbitmq"

// SessionOption configures a Session at construction time, mirroring the
// functional-options idiom rabbitmq.FactoryOption uses for
// ConnectionFactory.
type SessionOption func(*Session)

// WithMessageCodec overrides the default codec used to extract a
// transfer's Subject and normalize its body. Use this when the peer's
// messages carry real AMQP 1.0 message-format sections that need
// decoding; the default treats every payload as opaque bytes.
func WithMessageCodec(codec MessageCodec) SessionOption {
	return func(s *Session) {
		s.codec = codec
	}
}

// WithMetrics wires a rabbitmq.MetricsCollector into the session so
// publish/consume/ack/nack/confirm counts observed at the session-core
// level feed the same collector a caller might already be using for the
// backing 0-9-1 connection. The default is a no-op collector.
func WithMetrics(collector rabbitmq.MetricsCollector) SessionOption {
	return func(s *Session) {
		s.metrics = collector
	}
}
