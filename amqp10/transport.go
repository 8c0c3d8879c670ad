package amqp10

import "context"

// Delivery is a broker-originated message arriving on a subscription
// previously started with Backend.Consume.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	Body        []byte
}

// Confirm is a broker publisher-confirm callback.
type Confirm struct {
	DeliveryTag uint64
	Multiple    bool
	Ack         bool
}

// CreditState is the broker's response to a credit grant that could not
// be answered synchronously (e.g. the consumer had already been
// cancelled by the time the grant arrived).
type CreditState struct {
	ConsumerTag string
	Credit      int32
	Available   int32
	Drain       bool
}

// Backend is the narrow facade the session core uses over the backing
// 0-9-1 channel. It exists so the core can be driven from a fake in
// tests without a live broker; RabbitBackend (rabbitbackend.go) is the
// production implementation over *rabbitmq.Channel.
type Backend interface {
	// DeclareQueuePassive asserts a named queue already exists.
	DeclareQueuePassive(ctx context.Context, name string) error
	// DeclareExchangePassive asserts a named exchange already exists.
	DeclareExchangePassive(ctx context.Context, name string) error
	// DeclareAutoDeleteQueue creates a server-named, auto-delete,
	// delete-on-close queue and returns its assigned name.
	DeclareAutoDeleteQueue(ctx context.Context) (name string, err error)
	// BindQueue binds queue to exchange under routingKey.
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error

	// EnableConfirms turns on publisher confirms; Confirms() only
	// produces values after this has been called.
	EnableConfirms(ctx context.Context) error
	// Publish casts a message; delivery is reported asynchronously via
	// Confirms() if confirms are enabled, never by blocking here.
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error

	// Consume starts a subscription on queue under consumerTag with the
	// link's initial credit set to zero; the caller grants credit
	// explicitly via Credit before any message ships.
	Consume(ctx context.Context, queue, consumerTag string) error
	// Credit grants additional link credit to an active consumer. A
	// returned available of -1 means the broker could not determine the
	// queue's depth (e.g. it is itself a federated or mirrored queue);
	// callers must suppress any flow echo they would otherwise send.
	Credit(ctx context.Context, consumerTag string, credit int32, drain bool) (available int32, err error)
	// SetPrefetch limits the number of unacknowledged deliveries the
	// backing channel will have outstanding at once, approximating the
	// session window on the broker side.
	SetPrefetch(ctx context.Context, count int) error

	Ack(ctx context.Context, deliveryTag uint64) error
	Reject(ctx context.Context, deliveryTag uint64, requeue bool) error

	// Deliveries, Confirms, and CreditStates are the backend's inbox
	// channels; the session actor selects on all three alongside the
	// peer frame reader. Closed signals backing-channel exit.
	Deliveries() <-chan Delivery
	Confirms() <-chan Confirm
	CreditStates() <-chan CreditState
	Closed() <-chan error

	Close(ctx context.Context) error
}

// FrameSink is the narrow facade over the 1.0 frame writer. The session
// core never touches the wire codec directly.
type FrameSink interface {
	SendBegin(Begin) error
	SendAttach(Attach) error
	SendFlow(Flow) error
	SendTransfer(Transfer) error
	SendDisposition(Disposition) error
	SendDetach(Detach) error
	SendEnd(End) error
}
