package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	jetStreamConsumer = "genepool"
	jetStreamAckWait  = 5 * time.Minute
)

var streamNamer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// JetStreamBroker maps every queue onto a work-queue stream whose only
// subject is the queue name, read through one shared durable pull consumer.
// Workers bind to the same durable consumer.
type JetStreamBroker struct {
	nc *nats.Conn
	js jetstream.JetStream

	mu        sync.Mutex
	nextTag   uint64
	inflight  map[uint64]jetstream.Msg
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func DialJetStream(ctx context.Context, url string) (*JetStreamBroker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(url, nats.Name("genepool"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	return &JetStreamBroker{
		nc:        nc,
		js:        js,
		inflight:  make(map[uint64]jetstream.Msg),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

func streamName(queue string) string {
	return streamNamer.Replace(queue)
}

func (b *JetStreamBroker) Declare(ctx context.Context, queues ...string) error {
	for _, queue := range queues {
		stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      streamName(queue),
			Subjects:  []string{queue},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("declare stream for %s: %w", queue, err)
		}
		consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       jetStreamConsumer,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       jetStreamAckWait,
			MaxAckPending: -1,
		})
		if err != nil {
			return fmt.Errorf("declare consumer for %s: %w", queue, err)
		}
		b.mu.Lock()
		b.streams[queue] = stream
		b.consumers[queue] = consumer
		b.mu.Unlock()
	}
	return nil
}

func (b *JetStreamBroker) lookup(ctx context.Context, queue string) (jetstream.Stream, jetstream.Consumer, error) {
	b.mu.Lock()
	stream, consumer := b.streams[queue], b.consumers[queue]
	b.mu.Unlock()
	if stream != nil && consumer != nil {
		return stream, consumer, nil
	}

	stream, err := b.js.Stream(ctx, streamName(queue))
	if err != nil {
		return nil, nil, fmt.Errorf("lookup stream for %s: %w", queue, err)
	}
	consumer, err = stream.Consumer(ctx, jetStreamConsumer)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup consumer for %s: %w", queue, err)
	}
	b.mu.Lock()
	b.streams[queue] = stream
	b.consumers[queue] = consumer
	b.mu.Unlock()
	return stream, consumer, nil
}

func (b *JetStreamBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if _, err := b.js.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Depth counts stored messages that no worker holds unacknowledged.
func (b *JetStreamBroker) Depth(ctx context.Context, queue string) (int, error) {
	stream, consumer, err := b.lookup(ctx, queue)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("inspect stream for %s: %w", queue, err)
	}
	cinfo, err := consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("inspect consumer for %s: %w", queue, err)
	}
	ready := int(info.State.Msgs) - cinfo.NumAckPending
	if ready < 0 {
		ready = 0
	}
	return ready, nil
}

func (b *JetStreamBroker) Fetch(ctx context.Context, queue string, max int) ([]Delivery, error) {
	_, consumer, err := b.lookup(ctx, queue)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}
	batch, err := consumer.FetchNoWait(max)
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", queue, err)
	}

	var out []Delivery
	for msg := range batch.Messages() {
		b.mu.Lock()
		b.nextTag++
		tag := b.nextTag
		b.inflight[tag] = msg
		b.mu.Unlock()
		out = append(out, Delivery{Tag: tag, Body: msg.Data()})
	}
	if err := batch.Error(); err != nil {
		return out, fmt.Errorf("fetch from %s: %w", queue, err)
	}
	return out, nil
}

func (b *JetStreamBroker) Ack(ctx context.Context, deliveries []Delivery) error {
	return b.settle(deliveries, func(msg jetstream.Msg) error {
		return msg.DoubleAck(ctx)
	})
}

// Nack with requeue publishes the body again and terminates the original.
// A nak'd message would keep counting as ack pending until it is fetched
// again, hiding it from Depth; the copy is ready at once, at the tail of the
// queue. Without requeue the original is terminated and never redelivered.
func (b *JetStreamBroker) Nack(ctx context.Context, deliveries []Delivery, requeue bool) error {
	return b.settle(deliveries, func(msg jetstream.Msg) error {
		if requeue {
			if _, err := b.js.Publish(ctx, msg.Subject(), msg.Data()); err != nil {
				return fmt.Errorf("requeue: %w", err)
			}
		}
		return msg.Term()
	})
}

func (b *JetStreamBroker) settle(deliveries []Delivery, fn func(jetstream.Msg) error) error {
	for _, d := range deliveries {
		b.mu.Lock()
		msg, ok := b.inflight[d.Tag]
		delete(b.inflight, d.Tag)
		b.mu.Unlock()
		if !ok {
			return fmt.Errorf("unknown delivery tag %d", d.Tag)
		}
		if err := fn(msg); err != nil {
			return fmt.Errorf("settle delivery %d: %w", d.Tag, err)
		}
	}
	return nil
}

// Peek reads the stream by sequence, so it never touches the consumer.
// Messages delivered to a worker but not yet acknowledged are included, and a
// terminated message shows until the server has processed the term.
func (b *JetStreamBroker) Peek(ctx context.Context, queue string) ([][]byte, error) {
	stream, _, err := b.lookup(ctx, queue)
	if err != nil {
		return nil, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect stream for %s: %w", queue, err)
	}
	out := make([][]byte, 0, info.State.Msgs)
	if info.State.Msgs == 0 {
		return out, nil
	}
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq; seq++ {
		raw, err := stream.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("peek %s at sequence %d: %w", queue, seq, err)
		}
		out = append(out, raw.Data)
	}
	return out, nil
}

func (b *JetStreamBroker) Purge(ctx context.Context, queue string) (int, error) {
	stream, _, err := b.lookup(ctx, queue)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("inspect stream for %s: %w", queue, err)
	}
	if err := stream.Purge(ctx); err != nil {
		return 0, fmt.Errorf("purge %s: %w", queue, err)
	}
	return int(info.State.Msgs), nil
}

func (b *JetStreamBroker) Close() error {
	b.nc.Close()
	return nil
}
