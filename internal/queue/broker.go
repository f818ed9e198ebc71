// Package queue is the boundary between the pool controller and the message
// broker that carries genomes to and from evaluation workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"genepool/internal/model"
)

const (
	PendingSuffix   = ".pending"
	EvaluatedSuffix = ".evaluated"
)

var (
	errBrokerClosed = errors.New("broker is closed")
	// ErrStaleDelivery marks a delivery whose channel is gone; the broker has
	// already handed it back to the queue.
	ErrStaleDelivery = errors.New("delivery belongs to a closed channel")
)

// Delivery is a message handed out by Fetch and still owned by the broker
// until it is acked or nacked.
type Delivery struct {
	Tag  uint64
	Body []byte

	epoch uint64
}

// Broker is the set of queue operations the pool controller relies on.
// Delivery is at-least-once: an unacked delivery can reappear after Nack,
// a reconnect or a crash.
type Broker interface {
	// Declare makes sure the named queues exist.
	Declare(ctx context.Context, queues ...string) error
	Publish(ctx context.Context, queue string, body []byte) error
	// Depth is the number of ready messages in the queue.
	Depth(ctx context.Context, queue string) (int, error)
	// Fetch takes up to max ready messages without acknowledging them.
	Fetch(ctx context.Context, queue string, max int) ([]Delivery, error)
	Ack(ctx context.Context, deliveries []Delivery) error
	Nack(ctx context.Context, deliveries []Delivery, requeue bool) error
	// Peek returns every ready message and hands all of them back.
	Peek(ctx context.Context, queue string) ([][]byte, error)
	// Purge drops every ready message and reports how many were dropped.
	Purge(ctx context.Context, queue string) (int, error)
	Close() error
}

// Names returns the pending and evaluated queue names for a pool.
func Names(pool string) (pending, evaluated string) {
	return pool + PendingSuffix, pool + EvaluatedSuffix
}

// Dial opens a broker for the given URL. amqp:// and amqps:// reach RabbitMQ,
// nats:// and tls:// reach NATS JetStream, and memory:// returns a
// process-local broker.
func Dial(ctx context.Context, rawURL string) (Broker, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pool url: %v", model.ErrConfiguration, err)
	}
	switch parsed.Scheme {
	case "amqp", "amqps":
		return DialAMQP(ctx, rawURL)
	case "nats", "tls":
		return DialJetStream(ctx, rawURL)
	case "memory":
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported pool url scheme %q", model.ErrConfiguration, parsed.Scheme)
	}
}
