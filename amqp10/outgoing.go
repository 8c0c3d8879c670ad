package amqp10

import (
	"context"
	"encoding/binary"
)

// attachOutgoing handles a peer attach with role=receiver: the peer wants
// to receive broker deliveries as transfers on this link.
func (s *Session) attachOutgoing(ctx context.Context, att Attach) error {
	if _, busy := s.incomingLinks[att.Handle]; busy {
		return newSessionError(KindIllegalState, att.Handle, nil, "attach: handle %d already live", att.Handle)
	}
	if _, busy := s.outgoingLinks[att.Handle]; busy {
		return newSessionError(KindIllegalState, att.Handle, nil, "attach: handle %d already live", att.Handle)
	}

	var address string
	var dynamic bool
	var proposedOutcomes []Outcome
	var peerDefault *Outcome
	if att.Source != nil {
		address = att.Source.Address
		dynamic = att.Source.Dynamic
		proposedOutcomes = att.Source.Outcomes
		peerDefault = att.Source.DefaultOutcome
	}

	node, err := resolveSource(ctx, s.backend, address, dynamic)
	if err != nil {
		return s.replyAttachError(att.Handle, RoleSender, err)
	}

	negotiated, err := negotiateOutcomes(proposedOutcomes, peerDefault)
	if err != nil {
		return s.replyAttachError(att.Handle, RoleSender, err)
	}

	consumerTag := encodeConsumerTag(att.Handle)

	link := &outgoingLink{
		handle:         att.Handle,
		name:           att.Name,
		queue:          node.queue,
		consumerTag:    consumerTag,
		noAck:          negotiated.noAck,
		defaultOutcome: negotiated.defaultOutcome,
		outcomes:       negotiated.outcomes,
	}

	if err := s.backend.Consume(ctx, node.queue, consumerTag); err != nil {
		return s.replyAttachError(att.Handle, RoleSender, newSessionError(KindInternalError, att.Handle, err, "subscribe"))
	}

	s.outgoingLinks[att.Handle] = link

	def := negotiated.defaultOutcome
	return s.sink.SendAttach(Attach{
		Name:   att.Name,
		Handle: att.Handle,
		Role:   RoleSender,
		Source: &Source{Address: node.renderedAddress, Dynamic: dynamic, DefaultOutcome: &def, Outcomes: negotiated.outcomes},
	})
}

// deliverOutgoing handles a broker delivery arriving on an outgoing
// link's subscription, admitting it as a transfer or rejecting it back
// to the broker when the session window or peer's incoming window won't
// allow it.
func (s *Session) deliverOutgoing(ctx context.Context, handle uint32, d Delivery) error {
	link, ok := s.outgoingLinks[handle]
	if !ok {
		return newSessionError(KindIllegalState, handle, nil, "delivery: unknown outgoing link")
	}

	transferID := s.nextOutgoingID
	admitted := serialLessEq(transferID, s.maxOutgoingID) && s.outgoingUnsettled.len() < int(s.windowSize)

	if !admitted {
		if link.noAck {
			return nil
		}
		return s.backend.Reject(ctx, d.DeliveryTag, true)
	}

	deliveryTag := make([]byte, 8)
	binary.BigEndian.PutUint64(deliveryTag, d.DeliveryTag)

	if err := s.sink.SendTransfer(Transfer{
		Handle:      handle,
		DeliveryID:  &transferID,
		DeliveryTag: deliveryTag,
		Settled:     link.noAck,
		More:        false,
		Payload:     d.Body,
	}); err != nil {
		return newSessionError(KindTransportWrite, handle, err, "send transfer")
	}

	if !link.noAck {
		s.outgoingUnsettled.put(transferID, outgoingUnsettledEntry{
			deliveryTag:    d.DeliveryTag,
			defaultOutcome: link.defaultOutcome,
		})
	}
	s.metrics.MessageConsumed()

	link.transferCount = serialAdd(link.transferCount, 1)
	s.nextOutgoingID = serialAdd(s.nextOutgoingID, 1)
	return nil
}

// flowOutgoing handles a peer flow targeting an outgoing link, delegating
// the credit grant to the backing channel and echoing a 1.0 flow unless
// the broker can't report queue depth.
func (s *Session) flowOutgoing(ctx context.Context, handle uint32, f Flow) error {
	link, ok := s.outgoingLinks[handle]
	if !ok {
		return newSessionError(KindInvalidField, handle, nil, "flow: unknown outgoing link")
	}

	var credit int32
	if f.LinkCredit != nil {
		credit = int32(*f.LinkCredit)
	}

	available, err := s.backend.Credit(ctx, link.consumerTag, credit, f.Drain)
	if err != nil {
		return newSessionError(KindInternalError, handle, err, "grant credit")
	}
	if available == -1 {
		return nil
	}

	linkCredit := uint32(credit)
	avail := uint32(available)
	transferCount := link.transferCount
	return s.sendFlowFor(Flow{
		Handle:        &handle,
		DeliveryCount: &transferCount,
		LinkCredit:    &linkCredit,
		Available:     &avail,
		Drain:         f.Drain,
	})
}
