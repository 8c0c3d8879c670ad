package amqp10

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/israelio/rabbit-go-client/rabbitmq"
)

// RabbitBackend implements Backend over a *rabbitmq.Connection. It keeps
// two channels open: dataCh carries publish/consume/ack/credit traffic,
// declareCh is the declaring channel reserved for passive-declare and
// bind operations (see DESIGN.md, "declaring channel pattern"). declareCh
// is opened lazily and discarded on any failure so the next attach gets a
// fresh one.
type RabbitBackend struct {
	conn   *rabbitmq.Connection
	dataCh *rabbitmq.Channel

	mu         sync.Mutex
	declareCh  *rabbitmq.Channel
	everOpened bool // true once a declaring channel has been opened at least once, so the next open is a reopen

	deliveries   chan Delivery
	confirms     chan Confirm
	creditStates chan CreditState
	closed       chan error
}

// NewRabbitBackend wraps conn, opening the data channel immediately. The
// declaring channel is left unopened until first use.
func NewRabbitBackend(conn *rabbitmq.Connection) (*RabbitBackend, error) {
	dataCh, err := conn.NewChannel()
	if err != nil {
		return nil, fmt.Errorf("amqp10: open data channel: %w", err)
	}

	b := &RabbitBackend{
		conn:         conn,
		dataCh:       dataCh,
		deliveries:   make(chan Delivery, 256),
		confirms:     make(chan Confirm, 256),
		creditStates: make(chan CreditState, 16),
		closed:       make(chan error, 1),
	}

	closeChan := dataCh.NotifyClose(make(chan *rabbitmq.Error, 1))
	go func() {
		cause := <-closeChan
		if cause != nil {
			b.closed <- fmt.Errorf("amqp10: data channel closed: %s", cause.Reason)
		} else {
			b.closed <- nil
		}
		close(b.closed)
	}()

	confirmChan := dataCh.NotifyPublish(make(chan rabbitmq.Confirmation, 256))
	go func() {
		for c := range confirmChan {
			b.confirms <- Confirm{DeliveryTag: c.DeliveryTag, Ack: c.Ack}
		}
	}()

	return b, nil
}

// declaringChannel returns the lazily-opened declaring channel, opening
// (or reopening, after a prior discard) one if needed. A reopen replays
// every exchange/queue/binding declaration this connection has made so
// far, since the broker-side state a passive declare on the replacement
// channel assumes to exist may have been the very thing the discarded
// channel's failure put in doubt.
func (b *RabbitBackend) declaringChannel() (*rabbitmq.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.declareCh != nil {
		return b.declareCh, nil
	}

	reopening := b.everOpened
	ch, err := b.conn.NewChannel()
	if err != nil {
		return nil, err
	}
	b.declareCh = ch
	b.everOpened = true

	if reopening {
		if err := b.conn.RecoverTopology(); err != nil {
			return nil, fmt.Errorf("amqp10: recover topology onto replacement declaring channel: %w", err)
		}
	}
	return ch, nil
}

// discardDeclaringChannel drops the current declaring channel so the next
// call to declaringChannel opens a replacement and replays recorded
// topology onto it.
func (b *RabbitBackend) discardDeclaringChannel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.declareCh != nil {
		_ = b.declareCh.Close()
		b.declareCh = nil
	}
}

func (b *RabbitBackend) DeclareQueuePassive(ctx context.Context, name string) error {
	ch, err := b.declaringChannel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclarePassive(name); err != nil {
		b.discardDeclaringChannel()
		return err
	}
	return nil
}

func (b *RabbitBackend) DeclareExchangePassive(ctx context.Context, name string) error {
	ch, err := b.declaringChannel()
	if err != nil {
		return err
	}
	// The address grammar carries no exchange type; a passive declare on
	// RabbitMQ does not validate the type field against the actual
	// exchange, so any constant placeholder is safe here.
	if err := ch.ExchangeDeclarePassive(name, "topic"); err != nil {
		b.discardDeclaringChannel()
		return err
	}
	return nil
}

func (b *RabbitBackend) DeclareAutoDeleteQueue(ctx context.Context) (string, error) {
	ch, err := b.declaringChannel()
	if err != nil {
		return "", err
	}

	name := "amq.gen." + uuid.New().String()
	q, err := ch.QueueDeclare(name, rabbitmq.QueueDeclareOptions{
		Durable:    false,
		AutoDelete: true,
		Exclusive:  false,
	})
	if err != nil {
		b.discardDeclaringChannel()
		return "", err
	}
	return q.Name, nil
}

func (b *RabbitBackend) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	ch, err := b.declaringChannel()
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue, exchange, routingKey, nil); err != nil {
		b.discardDeclaringChannel()
		return err
	}
	return nil
}

func (b *RabbitBackend) EnableConfirms(ctx context.Context) error {
	return b.dataCh.ConfirmSelect(false)
}

func (b *RabbitBackend) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return b.dataCh.PublishWithContext(ctx, exchange, routingKey, false, false, rabbitmq.Publishing{
		Properties: rabbitmq.Basic,
		Body:       body,
	})
}

func (b *RabbitBackend) Consume(ctx context.Context, queue, consumerTag string) error {
	deliveries, err := b.dataCh.Consume(queue, consumerTag, rabbitmq.ConsumeOptions{})
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			b.deliveries <- Delivery{
				ConsumerTag: d.ConsumerTag,
				DeliveryTag: d.DeliveryTag,
				Body:        d.Body,
			}
		}
	}()

	// A fresh consumer starts with zero broker-side credit; the link is
	// only permitted to ship once the peer grants 1.0 link-credit.
	_, _, err = b.dataCh.Credit(consumerTag, 0, false)
	return err
}

func (b *RabbitBackend) Credit(ctx context.Context, consumerTag string, credit int32, drain bool) (int32, error) {
	available, _, err := b.dataCh.Credit(consumerTag, credit, drain)
	if err != nil {
		return 0, err
	}
	return available, nil
}

func (b *RabbitBackend) SetPrefetch(ctx context.Context, count int) error {
	return b.dataCh.Qos(count, 0, false)
}

func (b *RabbitBackend) Ack(ctx context.Context, deliveryTag uint64) error {
	return b.dataCh.BasicAck(deliveryTag, false)
}

func (b *RabbitBackend) Reject(ctx context.Context, deliveryTag uint64, requeue bool) error {
	return b.dataCh.BasicReject(deliveryTag, requeue)
}

func (b *RabbitBackend) Deliveries() <-chan Delivery         { return b.deliveries }
func (b *RabbitBackend) Confirms() <-chan Confirm            { return b.confirms }
func (b *RabbitBackend) CreditStates() <-chan CreditState    { return b.creditStates }
func (b *RabbitBackend) Closed() <-chan error                { return b.closed }

func (b *RabbitBackend) Close(ctx context.Context) error {
	b.discardDeclaringChannel()
	return b.dataCh.Close()
}
