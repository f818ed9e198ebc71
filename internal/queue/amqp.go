package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	amqpDialTimeout = 30 * time.Second
	amqpHeartbeat   = 10 * time.Second
)

// AMQPBroker talks to RabbitMQ over a single confirm-mode channel. Queues
// are durable and messages persistent. A closed channel is reopened on the
// next call; deliveries fetched on the old channel become stale.
type AMQPBroker struct {
	url string

	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	epoch uint64
}

func DialAMQP(ctx context.Context, url string) (*AMQPBroker, error) {
	b := &AMQPBroker{url: url}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.channel(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQPBroker) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.DialConfig(b.url, amqp.Config{
			Heartbeat: amqpHeartbeat,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(amqpDialTimeout),
		})
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		b.conn = conn
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	b.ch = ch
	b.epoch++
	return ch, nil
}

func (b *AMQPBroker) Declare(ctx context.Context, queues ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel(ctx)
	if err != nil {
		return err
	}
	for _, name := range queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return nil
}

func (b *AMQPBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel(ctx)
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: broker nacked message", queue)
	}
	return nil
}

func (b *AMQPBroker) Depth(ctx context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel(ctx)
	if err != nil {
		return 0, err
	}
	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %s: %w", queue, err)
	}
	return q.Messages, nil
}

func (b *AMQPBroker) Fetch(ctx context.Context, queue string, max int) ([]Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, max)
	for len(out) < max {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		msg, ok, err := ch.Get(queue, false)
		if err != nil {
			return out, fmt.Errorf("get from %s: %w", queue, err)
		}
		if !ok {
			break
		}
		out = append(out, Delivery{Tag: msg.DeliveryTag, Body: msg.Body, epoch: b.epoch})
	}
	return out, nil
}

func (b *AMQPBroker) Ack(ctx context.Context, deliveries []Delivery) error {
	return b.settle(ctx, deliveries, func(ch *amqp.Channel, tag uint64) error {
		return ch.Ack(tag, false)
	})
}

func (b *AMQPBroker) Nack(ctx context.Context, deliveries []Delivery, requeue bool) error {
	return b.settle(ctx, deliveries, func(ch *amqp.Channel, tag uint64) error {
		return ch.Nack(tag, false, requeue)
	})
}

func (b *AMQPBroker) settle(ctx context.Context, deliveries []Delivery, fn func(ch *amqp.Channel, tag uint64) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel(ctx)
	if err != nil {
		return err
	}
	var stale int
	for _, d := range deliveries {
		if d.epoch != b.epoch {
			stale++
			continue
		}
		if err := fn(ch, d.Tag); err != nil {
			return fmt.Errorf("settle delivery %d: %w", d.Tag, err)
		}
	}
	if stale > 0 {
		return fmt.Errorf("%d deliveries: %w", stale, ErrStaleDelivery)
	}
	return nil
}

func (b *AMQPBroker) Peek(ctx context.Context, queue string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel(ctx)
	if err != nil {
		return nil, err
	}
	var (
		bodies [][]byte
		tags   []uint64
	)
	for {
		msg, ok, err := ch.Get(queue, false)
		if err != nil {
			return nil, fmt.Errorf("peek %s: %w", queue, err)
		}
		if !ok {
			break
		}
		bodies = append(bodies, msg.Body)
		tags = append(tags, msg.DeliveryTag)
	}
	// Tags are nacked one by one so deliveries fetched elsewhere on this
	// channel stay outstanding.
	for _, tag := range tags {
		if err := ch.Nack(tag, false, true); err != nil {
			return nil, fmt.Errorf("return peeked messages to %s: %w", queue, err)
		}
	}
	return bodies, nil
}

func (b *AMQPBroker) Purge(ctx context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel(ctx)
	if err != nil {
		return 0, err
	}
	purged, err := ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", queue, err)
	}
	return purged, nil
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if b.ch != nil && !b.ch.IsClosed() {
		errs = append(errs, b.ch.Close())
	}
	if b.conn != nil && !b.conn.IsClosed() {
		errs = append(errs, b.conn.Close())
	}
	b.ch, b.conn = nil, nil
	return errors.Join(errs...)
}
