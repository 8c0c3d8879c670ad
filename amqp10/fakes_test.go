package amqp10

// fakes_test.go - shared fake Backend and FrameSink used across this
// package's tests, so the session core can be driven and asserted on
// without a live broker or 1.0 peer.

import (
	"context"
	"fmt"
	"sync"
)

type fakeBackend struct {
	mu sync.Mutex

	queues       map[string]bool
	exchanges    map[string]bool
	binds        []fakeBind
	dynamicSeq   int
	confirmsOn   bool
	publishes    []fakePublish
	consumers    map[string]string // consumerTag -> queue
	credits      []fakeCreditCall
	prefetch     int
	acked        []uint64
	rejected     []fakeReject
	declareFails map[string]bool

	deliveries   chan Delivery
	confirms     chan Confirm
	creditStates chan CreditState
	closed       chan error
}

type fakeBind struct {
	queue, exchange, routingKey string
}

type fakePublish struct {
	exchange, routingKey string
	body                  []byte
}

type fakeCreditCall struct {
	consumerTag string
	credit      int32
	drain       bool
}

type fakeReject struct {
	deliveryTag uint64
	requeue     bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		queues:       map[string]bool{},
		exchanges:    map[string]bool{},
		consumers:    map[string]string{},
		declareFails: map[string]bool{},
		deliveries:   make(chan Delivery, 16),
		confirms:     make(chan Confirm, 16),
		creditStates: make(chan CreditState, 16),
		closed:       make(chan error, 1),
	}
}

func (f *fakeBackend) DeclareQueuePassive(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareFails[name] || !f.queues[name] {
		return fmt.Errorf("queue %q not found", name)
	}
	return nil
}

func (f *fakeBackend) DeclareExchangePassive(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareFails[name] || !f.exchanges[name] {
		return fmt.Errorf("exchange %q not found", name)
	}
	return nil
}

func (f *fakeBackend) DeclareAutoDeleteQueue(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dynamicSeq++
	name := fmt.Sprintf("amq.gen.%d", f.dynamicSeq)
	f.queues[name] = true
	return name, nil
}

func (f *fakeBackend) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds = append(f.binds, fakeBind{queue, exchange, routingKey})
	return nil
}

func (f *fakeBackend) EnableConfirms(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmsOn = true
	return nil
}

func (f *fakeBackend) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, fakePublish{exchange, routingKey, body})
	return nil
}

func (f *fakeBackend) Consume(ctx context.Context, queue, consumerTag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumers[consumerTag] = queue
	return nil
}

func (f *fakeBackend) Credit(ctx context.Context, consumerTag string, credit int32, drain bool) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits = append(f.credits, fakeCreditCall{consumerTag, credit, drain})
	return credit, nil
}

func (f *fakeBackend) SetPrefetch(ctx context.Context, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = count
	return nil
}

func (f *fakeBackend) Ack(ctx context.Context, deliveryTag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, deliveryTag)
	return nil
}

func (f *fakeBackend) Reject(ctx context.Context, deliveryTag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, fakeReject{deliveryTag, requeue})
	return nil
}

func (f *fakeBackend) Deliveries() <-chan Delivery      { return f.deliveries }
func (f *fakeBackend) Confirms() <-chan Confirm         { return f.confirms }
func (f *fakeBackend) CreditStates() <-chan CreditState { return f.creditStates }
func (f *fakeBackend) Closed() <-chan error             { return f.closed }

func (f *fakeBackend) Close(ctx context.Context) error { return nil }

type fakeSink struct {
	mu sync.Mutex

	begins       []Begin
	attaches     []Attach
	flows        []Flow
	transfers    []Transfer
	dispositions []Disposition
	detaches     []Detach
	ends         []End
}

func (s *fakeSink) SendBegin(b Begin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins = append(s.begins, b)
	return nil
}

func (s *fakeSink) SendAttach(a Attach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attaches = append(s.attaches, a)
	return nil
}

func (s *fakeSink) SendFlow(f Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = append(s.flows, f)
	return nil
}

func (s *fakeSink) SendTransfer(t Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, t)
	return nil
}

func (s *fakeSink) SendDisposition(d Disposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispositions = append(s.dispositions, d)
	return nil
}

func (s *fakeSink) SendDetach(d Detach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detaches = append(s.detaches, d)
	return nil
}

func (s *fakeSink) SendEnd(e End) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, e)
	return nil
}

func (s *fakeSink) lastAttach() Attach {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches[len(s.attaches)-1]
}

func (s *fakeSink) lastFlow() Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flows[len(s.flows)-1]
}

func (s *fakeSink) lastTransfer() Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[len(s.transfers)-1]
}

func (s *fakeSink) lastDisposition() Disposition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispositions[len(s.dispositions)-1]
}
