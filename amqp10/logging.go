package amqp10

import "github.com/go-i2p/logger"

var log = logger.GetGoI2PLogger()

// logFields returns the structured fields every session log line carries,
// merged with whatever call-site fields are given, so channel_num never
// has to be threaded through call sites by hand.
func (s *Session) logFields(at string, extra logger.Fields) logger.Fields {
	f := logger.Fields{
		"at":          at,
		"channel_num": s.channelNum,
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
