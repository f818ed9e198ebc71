package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settleTimeout = 5 * time.Second

func runJetStream(t *testing.T) *JetStreamBroker {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)

	b, err := DialJetStream(context.Background(), s.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// dialTestAMQP connects to the broker named by GENEPOOL_TEST_AMQP_URL and
// returns a fresh queue name on it.
func dialTestAMQP(t *testing.T) (*AMQPBroker, string) {
	t.Helper()
	url := os.Getenv("GENEPOOL_TEST_AMQP_URL")
	if url == "" {
		t.Skip("GENEPOOL_TEST_AMQP_URL not set")
	}
	b, err := DialAMQP(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, "genepool-test-" + uuid.NewString()
}

func bodiesOf(deliveries []Delivery) []string {
	out := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, string(d.Body))
	}
	return out
}

func requireDepth(t *testing.T, b Broker, queue string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		depth, err := b.Depth(context.Background(), queue)
		return err == nil && depth == want
	}, settleTimeout, 20*time.Millisecond, "depth of %s never reached %d", queue, want)
}

// fetchN keeps fetching until n deliveries are held.
func fetchN(t *testing.T, b Broker, queue string, n int) []Delivery {
	t.Helper()
	var out []Delivery
	require.Eventually(t, func() bool {
		got, err := b.Fetch(context.Background(), queue, n-len(out))
		if err != nil {
			return false
		}
		out = append(out, got...)
		return len(out) == n
	}, settleTimeout, 20*time.Millisecond, "could not fetch %d from %s", n, queue)
	return out
}

func testBrokerContract(t *testing.T, b Broker, queue string) {
	ctx := context.Background()
	require.NoError(t, b.Declare(ctx, queue))
	_, err := b.Purge(ctx, queue)
	require.NoError(t, err)

	publishAll(t, b, queue, "a", "b", "c")
	requireDepth(t, b, queue, 3)

	peeked, err := b.Peek(ctx, queue)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, peeked)
	requireDepth(t, b, queue, 3)

	held := fetchN(t, b, queue, 2)
	assert.Equal(t, []string{"a", "b"}, bodiesOf(held))
	requireDepth(t, b, queue, 1)

	require.NoError(t, b.Ack(ctx, held[:1]))
	require.NoError(t, b.Nack(ctx, held[1:], true))
	requireDepth(t, b, queue, 2)

	held = fetchN(t, b, queue, 2)
	assert.ElementsMatch(t, []string{"b", "c"}, bodiesOf(held))
	requireDepth(t, b, queue, 0)

	require.NoError(t, b.Nack(ctx, held, false))
	requireDepth(t, b, queue, 0)
	require.Eventually(t, func() bool {
		bodies, err := b.Peek(ctx, queue)
		return err == nil && len(bodies) == 0
	}, settleTimeout, 20*time.Millisecond, "dropped messages still stored")

	publishAll(t, b, queue, "x", "y", "z")
	requireDepth(t, b, queue, 3)
	purged, err := b.Purge(ctx, queue)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)
	requireDepth(t, b, queue, 0)
}

func TestMemoryBrokerContract(t *testing.T) {
	testBrokerContract(t, NewMemoryBroker(), "pool.pending")
}

func TestJetStreamBrokerContract(t *testing.T) {
	testBrokerContract(t, runJetStream(t), "pool.pending")
}

func TestAMQPBrokerContract(t *testing.T) {
	b, queue := dialTestAMQP(t)
	testBrokerContract(t, b, queue)
}

func TestJetStreamDepthExcludesHeldMessagesButPeekShowsThem(t *testing.T) {
	ctx := context.Background()
	b := runJetStream(t)
	require.NoError(t, b.Declare(ctx, "pool.evaluated"))
	publishAll(t, b, "pool.evaluated", "a", "b")

	held := fetchN(t, b, "pool.evaluated", 1)
	depth, err := b.Depth(ctx, "pool.evaluated")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	peeked, err := b.Peek(ctx, "pool.evaluated")
	require.NoError(t, err)
	assert.Len(t, peeked, 2)

	require.NoError(t, b.Ack(ctx, held))
	requireDepth(t, b, "pool.evaluated", 1)
}

func TestJetStreamRequeuedMessageIsReadyAtOnce(t *testing.T) {
	ctx := context.Background()
	b := runJetStream(t)
	require.NoError(t, b.Declare(ctx, "pool.pending"))
	publishAll(t, b, "pool.pending", "a")

	held := fetchN(t, b, "pool.pending", 1)
	require.NoError(t, b.Nack(ctx, held, true))

	depth, err := b.Depth(ctx, "pool.pending")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	again := fetchN(t, b, "pool.pending", 1)
	assert.Equal(t, []string{"a"}, bodiesOf(again))
}

func TestJetStreamRejectsUnknownDeliveryTag(t *testing.T) {
	ctx := context.Background()
	b := runJetStream(t)
	require.NoError(t, b.Declare(ctx, "pool.pending"))

	assert.Error(t, b.Ack(ctx, []Delivery{{Tag: 99}}))
	assert.Error(t, b.Nack(ctx, []Delivery{{Tag: 99}}, true))
}

func TestAMQPDeliveryFromClosedChannelIsStale(t *testing.T) {
	ctx := context.Background()
	b, queue := dialTestAMQP(t)
	require.NoError(t, b.Declare(ctx, queue))
	publishAll(t, b, queue, "a")

	held := fetchN(t, b, queue, 1)
	b.mu.Lock()
	closeErr := b.ch.Close()
	b.mu.Unlock()
	require.NoError(t, closeErr)

	err := b.Ack(ctx, held)
	assert.ErrorIs(t, err, ErrStaleDelivery)
	requireDepth(t, b, queue, 1)

	_, err = b.Purge(ctx, queue)
	require.NoError(t, err)
}
