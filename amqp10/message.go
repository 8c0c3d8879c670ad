package amqp10

// MessageCodec decodes the AMQP 1.0 message-format sections out of a
// transfer's reassembled payload. The wire framing codec for performatives
// is an out-of-scope external collaborator (see FrameSink); the
// message-format codec is the same kind of collaborator, one layer up,
// so it is injected rather than implemented here.
type MessageCodec interface {
	// Subject returns the message's Subject property, used as the
	// tentative routing key when a link leaves routing_key unset. ok is
	// false when the payload carries no properties section or no subject.
	Subject(body []byte) (subject string, ok bool)
	// NormalizedBody returns the bytes to hand the backing channel as the
	// message body.
	NormalizedBody(body []byte) []byte
}

// rawMessageCodec treats the transfer payload as an opaque body with no
// structured sections. It is the default codec: correct for peers that
// send bare binary payloads, and a safe (if subject-blind) fallback for
// peers that don't.
type rawMessageCodec struct{}

func (rawMessageCodec) Subject(body []byte) (string, bool) { return "", false }
func (rawMessageCodec) NormalizedBody(body []byte) []byte  { return body }
