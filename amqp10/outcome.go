package amqp10

// supportedOutcomes is the full outcome set this session core
// understands. An attach proposing anything outside it fails with
// not_implemented rather than being silently downgraded.
var supportedOutcomes = map[Outcome]bool{
	OutcomeAccepted: true,
	OutcomeRejected: true,
	OutcomeReleased: true,
}

// negotiatedOutcomes is the result of §4.5 negotiation: the outcome set
// in effect for a link, the default outcome applied when a transfer is
// settled without an explicit disposition, and whether the link
// qualifies for no_ack delivery.
type negotiatedOutcomes struct {
	outcomes       []Outcome
	defaultOutcome Outcome
	noAck          bool
}

// negotiateOutcomes validates the peer's proposed outcome set against
// supportedOutcomes and derives the default outcome and no_ack flag.
// defaultOutcome is nil when the peer omitted one, in which case released
// is substituted — but substituting released never triggers no_ack,
// since no_ack additionally requires the peer to have explicitly opted
// into accepted as the default.
func negotiateOutcomes(proposed []Outcome, peerDefault *Outcome) (negotiatedOutcomes, error) {
	for _, o := range proposed {
		if !supportedOutcomes[o] {
			return negotiatedOutcomes{}, newSessionError(KindNotImplemented, 0, nil,
				"attach: unsupported outcome %q", o)
		}
	}

	def := OutcomeReleased
	explicitDefault := false
	if peerDefault != nil {
		if !supportedOutcomes[*peerDefault] {
			return negotiatedOutcomes{}, newSessionError(KindNotImplemented, 0, nil,
				"attach: unsupported default outcome %q", *peerDefault)
		}
		def = *peerDefault
		explicitDefault = true
	}

	noAck := explicitDefault && def == OutcomeAccepted && len(proposed) == 1 && proposed[0] == OutcomeAccepted

	return negotiatedOutcomes{
		outcomes:       proposed,
		defaultOutcome: def,
		noAck:          noAck,
	}, nil
}

// outcomeToBrokerOp maps a disposed outcome to the backing-channel
// operation that realizes it (§4.4, Disposition).
func outcomeToBrokerOp(outcome Outcome) (ack bool, requeue bool) {
	switch outcome {
	case OutcomeAccepted:
		return true, false
	case OutcomeRejected:
		return false, false
	case OutcomeReleased:
		return false, true
	default:
		return false, true
	}
}
