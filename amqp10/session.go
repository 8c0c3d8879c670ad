package amqp10

import (
	"context"

	"github.com/go-i2p/logger"

	"github.com/israelio/rabbit-go-client/rabbitmq"
)

// Session is the per-connection AMQP 1.0 session-core state machine. It
// owns its state exclusively and is driven single-threaded by Run; no
// field is touched from any other goroutine once Run has started.
type Session struct {
	channelNum uint16

	nextOutgoingID uint32
	nextIncomingID uint32
	maxOutgoingID  uint32
	windowSize     uint32

	nextPublishID     uint64
	confirmsEnabled   bool
	incomingUnsettled incomingUnsettled
	outgoingUnsettled *outgoingUnsettled

	incomingLinks map[uint32]*incomingLink
	outgoingLinks map[uint32]*outgoingLink

	backend Backend
	sink    FrameSink
	codec   MessageCodec
	metrics rabbitmq.MetricsCollector

	frames chan interface{}
}

// NewSession constructs a session bound to backend and sink. channelNum is
// the 0-9-1-flavored channel number the peer addressed in its begin.
func NewSession(channelNum uint16, backend Backend, sink FrameSink, opts ...SessionOption) *Session {
	s := &Session{
		channelNum:        channelNum,
		outgoingUnsettled: newOutgoingUnsettled(),
		incomingLinks:     make(map[uint32]*incomingLink),
		outgoingLinks:     make(map[uint32]*outgoingLink),
		backend:           backend,
		sink:              sink,
		codec:             rawMessageCodec{},
		metrics:           rabbitmq.NewNoOpMetricsCollector(),
		frames:            make(chan interface{}, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PostFrame enqueues an inbound 1.0 performative for the session actor to
// process. f must be one of *Begin, *Attach, *Flow, *Transfer,
// *Disposition, *Detach, *End.
func (s *Session) PostFrame(f interface{}) {
	s.frames <- f
}

// Run is the single-threaded cooperative actor loop. It services exactly
// one event to completion before considering the next, per the
// concurrency model this package implements.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-s.frames:
			if err := s.dispatchFrame(ctx, f); err != nil {
				return s.terminate(err)
			}

		case d, ok := <-s.backend.Deliveries():
			if !ok {
				continue
			}
			if err := s.dispatchDelivery(ctx, d); err != nil {
				return s.terminate(err)
			}

		case c, ok := <-s.backend.Confirms():
			if !ok {
				continue
			}
			if err := s.dispatchConfirm(ctx, c); err != nil {
				return s.terminate(err)
			}

		case cs, ok := <-s.backend.CreditStates():
			if !ok {
				continue
			}
			if err := s.dispatchCreditState(ctx, cs); err != nil {
				return s.terminate(err)
			}

		case cause, ok := <-s.backend.Closed():
			if !ok {
				continue
			}
			return s.terminate(newSessionError(KindBackingExit, 0, cause, "backing channel exited"))
		}
	}
}

func (s *Session) dispatchFrame(ctx context.Context, f interface{}) error {
	switch v := f.(type) {
	case *Begin:
		return s.handleBegin(ctx, *v)
	case *Attach:
		return s.handleAttach(ctx, *v)
	case *Flow:
		return s.handleFlow(ctx, *v)
	case *Transfer:
		return s.handleTransfer(ctx, *v)
	case *Disposition:
		return s.handleDisposition(ctx, *v)
	case *Detach:
		return s.handleDetach(ctx, *v)
	case *End:
		return s.handleEnd(ctx, *v)
	default:
		return newSessionError(KindInternalError, 0, nil, "unrecognized inbox frame %T", v)
	}
}

func (s *Session) dispatchDelivery(ctx context.Context, d Delivery) error {
	handle, ok := decodeConsumerTag(d.ConsumerTag)
	if !ok {
		return newSessionError(KindInternalError, 0, nil, "delivery: unroutable consumer tag %q", d.ConsumerTag)
	}
	return s.deliverOutgoing(ctx, handle, d)
}

func (s *Session) dispatchConfirm(ctx context.Context, c Confirm) error {
	return s.handleBrokerConfirm(ctx, c)
}

func (s *Session) dispatchCreditState(ctx context.Context, cs CreditState) error {
	handle, ok := decodeConsumerTag(cs.ConsumerTag)
	if !ok {
		return nil
	}
	link, ok := s.outgoingLinks[handle]
	if !ok {
		return nil
	}
	if cs.Available == -1 {
		return nil
	}
	linkCredit := uint32(cs.Credit)
	available := uint32(cs.Available)
	transferCount := link.transferCount
	return s.sendFlowFor(Flow{
		Handle:        &handle,
		DeliveryCount: &transferCount,
		LinkCredit:    &linkCredit,
		Available:     &available,
		Drain:         cs.Drain,
	})
}

// handleBegin implements §4.4's Begin handling.
func (s *Session) handleBegin(ctx context.Context, b Begin) error {
	w := b.IncomingWindow
	if w > MaxSessionBufferSize {
		w = MaxSessionBufferSize
	}

	if err := s.backend.SetPrefetch(ctx, int(w)); err != nil {
		return newSessionError(KindInternalError, 0, err, "set prefetch from begin")
	}

	s.nextIncomingID = b.NextOutgoingID
	s.maxOutgoingID = serialAdd(b.NextOutgoingID, b.IncomingWindow)
	s.windowSize = w

	log.WithFields(s.logFields("amqp10.Session.handleBegin", logger.Fields{
		"window_size": w,
	})).Info("session_began")

	return s.sink.SendBegin(Begin{
		RemoteChannel:  s.channelNum,
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: w,
		OutgoingWindow: w,
	})
}

// handleAttach routes to the incoming or outgoing link attach path by the
// role the peer declared (role=sender means the peer is the sender, so we
// are the incoming-link receiver side).
func (s *Session) handleAttach(ctx context.Context, att Attach) error {
	if att.Role == RoleSender {
		return s.attachIncoming(ctx, att)
	}
	return s.attachOutgoing(ctx, att)
}

// handleFlow implements §4.4's peer-flow consistency checks and dispatch.
func (s *Session) handleFlow(ctx context.Context, f Flow) error {
	if f.NextOutgoingID != s.nextIncomingID {
		return newSessionError(KindInvalidField, 0, nil,
			"flow: peer next_outgoing_id %d != session next_incoming_id %d", f.NextOutgoingID, s.nextIncomingID)
	}

	rNin := s.nextOutgoingID
	if f.NextIncomingID != nil {
		rNin = *f.NextIncomingID
	}
	if serialLess(s.nextOutgoingID, rNin) {
		return newSessionError(KindInvalidField, 0, nil,
			"flow: peer next_incoming_id %d exceeds session next_outgoing_id %d", rNin, s.nextOutgoingID)
	}

	s.maxOutgoingID = serialAdd(rNin, f.IncomingWindow)

	if f.Handle == nil {
		return nil
	}
	handle := *f.Handle

	if _, ok := s.outgoingLinks[handle]; ok {
		return s.flowOutgoing(ctx, handle, f)
	}
	if _, ok := s.incomingLinks[handle]; ok {
		return nil
	}
	return newSessionError(KindInvalidField, handle, nil, "flow: unknown handle %d", handle)
}

// handleTransfer implements §4.4's inbound-transfer routing and
// next_incoming_id advancement.
func (s *Session) handleTransfer(ctx context.Context, t Transfer) error {
	if _, ok := s.incomingLinks[t.Handle]; !ok {
		return newSessionError(KindIllegalState, t.Handle, nil, "transfer: unknown handle %d", t.Handle)
	}

	if t.DeliveryID != nil {
		s.nextIncomingID = serialAdd(*t.DeliveryID, 1)
	}

	return s.transferIncoming(ctx, t)
}

// handleDisposition implements §4.4's peer-disposition settlement mapping.
func (s *Session) handleDisposition(ctx context.Context, d Disposition) error {
	lwm, hwm, ok := s.outgoingUnsettled.bounds()
	if !ok {
		return nil
	}

	last := d.last()
	if serialLess(last, lwm) {
		return nil
	}
	if serialLess(hwm, d.First) {
		return nil
	}

	lo := d.First
	if serialLess(lo, lwm) {
		lo = lwm
	}
	hi := last
	if serialLess(hwm, hi) {
		hi = hwm
	}

	for t := lo; ; t = serialAdd(t, 1) {
		if entry, present := s.outgoingUnsettled.get(t); present {
			ack, requeue := outcomeToBrokerOp(d.Outcome)
			var err error
			if ack {
				err = s.backend.Ack(ctx, entry.deliveryTag)
				s.metrics.MessageAcked()
			} else {
				err = s.backend.Reject(ctx, entry.deliveryTag, requeue)
				if d.Outcome == OutcomeRejected {
					s.metrics.MessageRejected()
				} else {
					s.metrics.MessageNacked()
				}
			}
			if err != nil {
				return newSessionError(KindInternalError, 0, err, "settle delivery for transfer %d", t)
			}
			s.outgoingUnsettled.delete(t)
		}

		if t == hi {
			break
		}
	}

	if !d.Settled {
		return s.sink.SendDisposition(Disposition{
			Role:    RoleSender,
			First:   lo,
			Last:    &hi,
			Settled: true,
			Outcome: d.Outcome,
		})
	}
	return nil
}

// handleBrokerConfirm implements §4.4's broker-ack-to-disposition
// translation. A broker nack (Ack=false) is not covered by the source
// spec; it is treated as released rather than left unsettled forever,
// since released is the supported outcome closest to "the broker could
// not durably accept this."
func (s *Session) handleBrokerConfirm(ctx context.Context, c Confirm) error {
	s.metrics.ConfirmReceived(c.Ack)

	removed := s.incomingUnsettled.removeUpTo(c.DeliveryTag)
	if len(removed) == 0 {
		return nil
	}

	outcome := OutcomeAccepted
	if !c.Ack {
		outcome = OutcomeReleased
	}

	first := removed[0].transferID
	last := removed[len(removed)-1].transferID

	return s.sink.SendDisposition(Disposition{
		Role:    RoleSender,
		First:   first,
		Last:    &last,
		Settled: true,
		Outcome: outcome,
	})
}

// handleDetach implements §4.4's Detach handling: best-effort, unsettled
// entries are left in place for their eventual disposition/confirm.
func (s *Session) handleDetach(ctx context.Context, d Detach) error {
	delete(s.incomingLinks, d.Handle)
	delete(s.outgoingLinks, d.Handle)

	return s.sink.SendDetach(Detach{Handle: d.Handle, Closed: d.Closed})
}

// handleEnd implements §4.4's End handling.
func (s *Session) handleEnd(ctx context.Context, e End) error {
	log.WithFields(s.logFields("amqp10.Session.handleEnd", nil)).Info("session_ended_by_peer")
	_ = s.sink.SendEnd(End{})
	return s.backend.Close(ctx)
}

// terminate is called when Run is about to return due to an error; it
// gives the peer an End carrying the failure and closes the backend.
func (s *Session) terminate(err error) error {
	log.WithFields(s.logFields("amqp10.Session.terminate", logger.Fields{
		"error": err,
	})).Error("session_terminated")

	wireErr := toWireError(err)
	_ = s.sink.SendEnd(End{Error: &wireErr})
	_ = s.backend.Close(context.Background())
	return err
}

// replyAttachError sends an attach with empty linkage followed by a detach
// carrying the error, per §7's "reject attach" handling.
func (s *Session) replyAttachError(handle uint32, role Role, err error) error {
	log.WithFields(s.logFields("amqp10.Session.replyAttachError", logger.Fields{
		"handle": handle,
		"error":  err,
	})).Warn("attach_rejected")

	wireErr := toWireError(err)
	if sendErr := s.sink.SendAttach(Attach{Handle: handle, Role: role}); sendErr != nil {
		return newSessionError(KindTransportWrite, handle, sendErr, "send attach error reply")
	}
	if sendErr := s.sink.SendDetach(Detach{Handle: handle, Closed: true, Error: &wireErr}); sendErr != nil {
		return newSessionError(KindTransportWrite, handle, sendErr, "send detach after attach error")
	}
	return nil
}

// ensureConfirmsEnabled turns on backing-channel publisher confirms the
// first time an incoming link requires them.
func (s *Session) ensureConfirmsEnabled(ctx context.Context) error {
	if s.confirmsEnabled {
		return nil
	}
	if err := s.backend.EnableConfirms(ctx); err != nil {
		return err
	}
	s.confirmsEnabled = true
	return nil
}

// sendFlowFor fills in the session-level fields that accompany every flow
// this session emits (§4.4) and sends it.
func (s *Session) sendFlowFor(f Flow) error {
	nextIncomingID := s.nextIncomingID
	f.NextIncomingID = &nextIncomingID
	f.IncomingWindow = s.windowSize
	f.NextOutgoingID = s.nextOutgoingID
	f.OutgoingWindow = s.windowSize - uint32(s.outgoingUnsettled.len())

	if err := s.sink.SendFlow(f); err != nil {
		return newSessionError(KindTransportWrite, 0, err, "send flow")
	}
	return nil
}

// toWireError adapts any error into a 1.0 error record, preserving the
// condition when the error is a SessionError and falling back to
// internal_error otherwise.
func toWireError(err error) Error {
	if se, ok := err.(*SessionError); ok {
		return se.toWireError()
	}
	return Error{Condition: ConditionInternalError, Description: err.Error()}
}
