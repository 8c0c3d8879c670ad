package amqp10

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSession(backend Backend, sink FrameSink, opts ...SessionOption) *Session {
	return NewSession(1, backend, sink, opts...)
}

func TestAttachIncomingSettledModeSkipsConfirms(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	err := s.attachIncoming(context.Background(), Attach{
		Handle:           5,
		Name:             "link-5",
		SenderSettleMode: SenderSettleModeSettled,
		Target:           &Target{Address: "/queue/orders"},
	})
	require.NoError(t, err)

	require.False(t, b.confirmsOn)
	link := s.incomingLinks[5]
	require.NotNil(t, link)
	require.False(t, link.requiresConfirm)

	reply := sink.lastAttach()
	require.Equal(t, RoleReceiver, reply.Role)

	flow := sink.lastFlow()
	require.NotNil(t, flow.Handle)
	require.Equal(t, uint32(5), *flow.Handle)
	require.Equal(t, uint32(IncomingCredit), *flow.LinkCredit)
}

func TestAttachIncomingUnsettledEnablesConfirms(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	err := s.attachIncoming(context.Background(), Attach{
		Handle: 1,
		Target: &Target{Address: "/queue/orders"},
	})
	require.NoError(t, err)

	require.True(t, b.confirmsOn)
	link := s.incomingLinks[1]
	require.True(t, link.requiresConfirm)
	require.Equal(t, uint64(1), s.nextPublishID)
}

func TestAttachIncomingUnknownQueueRejectsAttach(t *testing.T) {
	b := newFakeBackend()
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	err := s.attachIncoming(context.Background(), Attach{
		Handle: 1,
		Target: &Target{Address: "/queue/missing"},
	})
	require.NoError(t, err) // rejection is reported via attach+detach, not a returned error

	require.Len(t, sink.attaches, 1)
	require.Len(t, sink.detaches, 1)
	require.True(t, sink.detaches[0].Closed)
	require.NotNil(t, sink.detaches[0].Error)
}

func TestAttachIncomingDuplicateHandleFails(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	require.NoError(t, s.attachIncoming(context.Background(), Attach{
		Handle: 1, Target: &Target{Address: "/queue/orders"},
	}))

	err := s.attachIncoming(context.Background(), Attach{
		Handle: 1, Target: &Target{Address: "/queue/orders"},
	})
	require.Error(t, err)
}

func TestTransferIncomingPublishesAssembledBody(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	require.NoError(t, s.attachIncoming(context.Background(), Attach{
		Handle:           2,
		SenderSettleMode: SenderSettleModeSettled,
		Target:           &Target{Address: "/queue/orders"},
	}))

	deliveryID := uint32(0)
	err := s.transferIncoming(context.Background(), Transfer{
		Handle:     2,
		DeliveryID: &deliveryID,
		Payload:    []byte("payload"),
	})
	require.NoError(t, err)

	require.Len(t, b.publishes, 1)
	require.Equal(t, "orders", b.publishes[0].routingKey)
	require.Equal(t, []byte("payload"), b.publishes[0].body)
}

func TestTransferIncomingReassemblesFragments(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	require.NoError(t, s.attachIncoming(context.Background(), Attach{
		Handle:           3,
		SenderSettleMode: SenderSettleModeSettled,
		Target:           &Target{Address: "/queue/orders"},
	}))

	deliveryID := uint32(0)
	require.NoError(t, s.transferIncoming(context.Background(), Transfer{
		Handle: 3, DeliveryID: &deliveryID, Payload: []byte("hel"), More: true,
	}))
	require.Empty(t, b.publishes)

	require.NoError(t, s.transferIncoming(context.Background(), Transfer{
		Handle: 3, Payload: []byte("lo"), More: false,
	}))
	require.Len(t, b.publishes, 1)
	require.Equal(t, []byte("hello"), b.publishes[0].body)
}

func TestTransferIncomingRecordsUnsettledWhenConfirmRequired(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	require.NoError(t, s.attachIncoming(context.Background(), Attach{
		Handle: 4, Target: &Target{Address: "/queue/orders"},
	}))

	deliveryID := uint32(100)
	require.NoError(t, s.transferIncoming(context.Background(), Transfer{
		Handle: 4, DeliveryID: &deliveryID, Payload: []byte("x"),
	}))

	require.Equal(t, 1, s.incomingUnsettled.len())
	require.Equal(t, uint64(2), s.nextPublishID)
}

func TestTransferIncomingMixedModeSettledTransferBypassesUnsettled(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	require.NoError(t, s.attachIncoming(context.Background(), Attach{
		Handle:           7,
		SenderSettleMode: SenderSettleModeMixed,
		Target:           &Target{Address: "/queue/orders"},
	}))
	publishIDBefore := s.nextPublishID

	deliveryID := uint32(0)
	require.NoError(t, s.transferIncoming(context.Background(), Transfer{
		Handle:     7,
		DeliveryID: &deliveryID,
		Payload:    []byte("x"),
		Settled:    true,
	}))

	require.Equal(t, 0, s.incomingUnsettled.len())
	require.Equal(t, publishIDBefore, s.nextPublishID)
	require.Len(t, b.publishes, 1)
}

func TestTransferIncomingMixedModeUnsettledTransferRecordsUnsettled(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	require.NoError(t, s.attachIncoming(context.Background(), Attach{
		Handle:           8,
		SenderSettleMode: SenderSettleModeMixed,
		Target:           &Target{Address: "/queue/orders"},
	}))
	publishIDBefore := s.nextPublishID

	deliveryID := uint32(0)
	require.NoError(t, s.transferIncoming(context.Background(), Transfer{
		Handle:     8,
		DeliveryID: &deliveryID,
		Payload:    []byte("x"),
		Settled:    false,
	}))

	require.Equal(t, 1, s.incomingUnsettled.len())
	require.Equal(t, publishIDBefore+1, s.nextPublishID)
}

func TestTransferIncomingReplenishesCreditWhenExhausted(t *testing.T) {
	b := newFakeBackend()
	b.queues["orders"] = true
	sink := &fakeSink{}
	s := newTestSession(b, sink)

	require.NoError(t, s.attachIncoming(context.Background(), Attach{
		Handle:           6,
		SenderSettleMode: SenderSettleModeSettled,
		Target:           &Target{Address: "/queue/orders"},
	}))
	flowsAfterAttach := len(sink.flows)

	s.incomingLinks[6].creditUsed = 1

	deliveryID := uint32(0)
	require.NoError(t, s.transferIncoming(context.Background(), Transfer{
		Handle: 6, DeliveryID: &deliveryID, Payload: []byte("x"),
	}))

	require.Greater(t, len(sink.flows), flowsAfterAttach)
	last := sink.lastFlow()
	require.Equal(t, uint32(IncomingCredit), *last.LinkCredit)
	require.Equal(t, uint32(IncomingCredit/2), s.incomingLinks[6].creditUsed)
}
