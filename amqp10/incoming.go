package amqp10

import "context"

// attachIncoming handles a peer attach with role=sender: the peer will be
// sending us transfers to publish onto the backing channel.
func (s *Session) attachIncoming(ctx context.Context, att Attach) error {
	if _, busy := s.incomingLinks[att.Handle]; busy {
		return newSessionError(KindIllegalState, att.Handle, nil, "attach: handle %d already live", att.Handle)
	}
	if _, busy := s.outgoingLinks[att.Handle]; busy {
		return newSessionError(KindIllegalState, att.Handle, nil, "attach: handle %d already live", att.Handle)
	}

	var address string
	var dynamic bool
	if att.Target != nil {
		address = att.Target.Address
		dynamic = att.Target.Dynamic
	}

	node, err := resolveTarget(ctx, s.backend, address, dynamic)
	if err != nil {
		return s.replyAttachError(att.Handle, RoleReceiver, err)
	}

	requiresConfirm := false
	switch att.SenderSettleMode {
	case SenderSettleModeSettled:
		// fire-and-forget, next_publish_id stays at 0
	default:
		if err := s.ensureConfirmsEnabled(ctx); err != nil {
			return newSessionError(KindInternalError, att.Handle, err, "enable confirms")
		}
		requiresConfirm = true
		if s.nextPublishID == 0 {
			s.nextPublishID = 1
		}
	}

	link := &incomingLink{
		handle:          att.Handle,
		name:            att.Name,
		exchange:        node.exchange,
		routingKey:      node.routingKey,
		creditUsed:      IncomingCredit / 2,
		requiresConfirm: requiresConfirm,
		mode:            att.SenderSettleMode,
	}
	s.incomingLinks[att.Handle] = link

	if err := s.sink.SendAttach(Attach{
		Name:   att.Name,
		Handle: att.Handle,
		Role:   RoleReceiver,
		Target: &Target{Address: node.renderedAddress, Dynamic: dynamic},
	}); err != nil {
		return newSessionError(KindTransportWrite, att.Handle, err, "send attach")
	}

	deliveryCount := link.deliveryCount
	linkCredit := uint32(IncomingCredit)
	return s.sendFlowFor(Flow{
		Handle:        &att.Handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    &linkCredit,
		Drain:         false,
		Echo:          false,
	})
}

// transferIncoming handles an inbound transfer on an incoming link,
// accumulating fragments and publishing once the terminating frame
// arrives.
func (s *Session) transferIncoming(ctx context.Context, t Transfer) error {
	link, ok := s.incomingLinks[t.Handle]
	if !ok {
		return newSessionError(KindIllegalState, t.Handle, nil, "transfer: unknown incoming link")
	}

	if t.DeliveryID != nil {
		link.pendingTransferID = *t.DeliveryID
	}

	link.appendFragment(t.Payload)
	if t.More {
		return nil
	}

	assembled := link.drainFragments()
	subject, hasSubject := s.codec.Subject(assembled)
	if !hasSubject {
		subject = ""
	}
	body := s.codec.NormalizedBody(assembled)

	routingKey := subject
	if link.routingKey != nil {
		routingKey = *link.routingKey
	}

	publishID := s.nextPublishID
	if err := s.backend.Publish(ctx, link.exchange, routingKey, body); err != nil {
		return newSessionError(KindInternalError, t.Handle, err, "publish")
	}
	s.metrics.MessagePublished()

	link.deliveryCount = serialAdd(link.deliveryCount, 1)
	link.creditUsed--
	if link.creditUsed <= 0 {
		link.creditUsed = IncomingCredit / 2
		deliveryCount := link.deliveryCount
		linkCredit := uint32(IncomingCredit)
		handle := t.Handle
		if err := s.sendFlowFor(Flow{
			Handle:        &handle,
			DeliveryCount: &deliveryCount,
			LinkCredit:    &linkCredit,
		}); err != nil {
			return err
		}
	}

	// Mixed mode defaults to unsettled bookkeeping, but a single Transfer
	// may carry settled=true to opt itself out of confirm tracking.
	if link.requiresConfirm && (link.mode != SenderSettleModeMixed || !t.Settled) {
		s.nextPublishID++
		s.incomingUnsettled.put(publishID, link.pendingTransferID)
	}

	return nil
}
