package queue

import (
	"context"
	"fmt"
	"sync"
)

type memoryMessage struct {
	tag  uint64
	body []byte
}

// MemoryBroker is an in-process Broker with the same ack/requeue semantics
// as the AMQP adapter. Requeued messages go back to the head of their queue.
type MemoryBroker struct {
	mu      sync.Mutex
	nextTag uint64
	ready   map[string][]memoryMessage
	unacked map[uint64]string
	bodies  map[uint64][]byte
	closed  bool

	// PublishHook, when set, runs before every publish and can fail it.
	PublishHook func(queue string, body []byte) error
	// PurgeHook, when set, runs after every purge and can leave messages
	// behind to simulate a concurrent producer.
	PurgeHook func(queue string) [][]byte
	// AckHook, when set, runs before every ack and can fail it.
	AckHook func(deliveries []Delivery) error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		ready:   make(map[string][]memoryMessage),
		unacked: make(map[uint64]string),
		bodies:  make(map[uint64][]byte),
	}
}

func (b *MemoryBroker) Declare(_ context.Context, queues ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBrokerClosed
	}
	for _, name := range queues {
		if _, ok := b.ready[name]; !ok {
			b.ready[name] = nil
		}
	}
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	hook := b.PublishHook
	b.mu.Unlock()
	if hook != nil {
		if err := hook(queue, body); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}
	b.nextTag++
	b.ready[queue] = append(b.ready[queue], memoryMessage{tag: b.nextTag, body: append([]byte(nil), body...)})
	return nil
}

func (b *MemoryBroker) Depth(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errBrokerClosed
	}
	return len(b.ready[queue]), nil
}

func (b *MemoryBroker) Fetch(ctx context.Context, queue string, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBrokerClosed
	}
	ready := b.ready[queue]
	if max > len(ready) {
		max = len(ready)
	}
	out := make([]Delivery, 0, max)
	for _, msg := range ready[:max] {
		b.unacked[msg.tag] = queue
		b.bodies[msg.tag] = msg.body
		out = append(out, Delivery{Tag: msg.tag, Body: append([]byte(nil), msg.body...)})
	}
	b.ready[queue] = append([]memoryMessage(nil), ready[max:]...)
	return out, nil
}

func (b *MemoryBroker) Ack(_ context.Context, deliveries []Delivery) error {
	b.mu.Lock()
	hook := b.AckHook
	b.mu.Unlock()
	if hook != nil {
		if err := hook(deliveries); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, d := range deliveries {
		if _, ok := b.unacked[d.Tag]; !ok {
			return fmt.Errorf("unknown delivery tag %d", d.Tag)
		}
		delete(b.unacked, d.Tag)
		delete(b.bodies, d.Tag)
	}
	return nil
}

func (b *MemoryBroker) Nack(_ context.Context, deliveries []Delivery, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	byQueue := map[string][]memoryMessage{}
	order := []string{}
	for _, d := range deliveries {
		queue, ok := b.unacked[d.Tag]
		if !ok {
			return fmt.Errorf("unknown delivery tag %d", d.Tag)
		}
		if requeue {
			if _, seen := byQueue[queue]; !seen {
				order = append(order, queue)
			}
			byQueue[queue] = append(byQueue[queue], memoryMessage{tag: d.Tag, body: b.bodies[d.Tag]})
		}
		delete(b.unacked, d.Tag)
		delete(b.bodies, d.Tag)
	}
	for _, queue := range order {
		b.ready[queue] = append(byQueue[queue], b.ready[queue]...)
	}
	return nil
}

func (b *MemoryBroker) Peek(ctx context.Context, queue string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBrokerClosed
	}
	out := make([][]byte, 0, len(b.ready[queue]))
	for _, msg := range b.ready[queue] {
		out = append(out, append([]byte(nil), msg.body...))
	}
	return out, nil
}

func (b *MemoryBroker) Purge(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, errBrokerClosed
	}
	purged := len(b.ready[queue])
	b.ready[queue] = nil
	hook := b.PurgeHook
	b.mu.Unlock()

	if hook != nil {
		for _, body := range hook(queue) {
			if err := b.Publish(ctx, queue, body); err != nil {
				return purged, err
			}
		}
	}
	return purged, nil
}

// Unacked reports how many deliveries are outstanding across all queues.
func (b *MemoryBroker) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.unacked)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
