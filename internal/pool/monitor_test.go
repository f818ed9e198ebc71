package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genepool/internal/evo"
	"genepool/internal/model"
	"genepool/internal/queue"
)

func TestMonitorAdvancesUntilCancelled(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var generations []int
	c := newTestController(t, broker, func(cfg *Config) {
		cfg.OnGeneration = func(o Outcome) {
			generations = append(generations, o.Generation)
			if len(generations) == 3 {
				cancel()
			}
		}
	})
	session, err := c.Reset(ctx, seedScalar)
	require.NoError(t, err)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for ctx.Err() == nil {
			if _, err := evaluate(ctx, broker, "test", 1<<20, byValue); err != nil && ctx.Err() == nil {
				t.Errorf("worker: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err = c.Monitor(ctx, newBreeder(t))
	<-workerDone
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 2, 3}, generations)

	pending, _ := c.Queues()
	for _, g := range genomesIn(t, broker, pending) {
		assert.Equal(t, session, g.Session)
	}
}

func TestMonitorRetriesAfterRecoverableError(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var reported []error
	c := newTestController(t, broker, func(cfg *Config) {
		cfg.OnError = func(err error) { reported = append(reported, err) }
		cfg.OnGeneration = func(Outcome) { cancel() }
	})
	_, err := c.Reset(ctx, seedScalar)
	require.NoError(t, err)
	evaluateAll(t, broker)

	breeder := newBreeder(t)
	calls := 0
	strategy := evo.StrategyFunc[scalar](func(ctx context.Context, ranked []model.Genome[scalar]) ([]model.Genome[scalar], error) {
		calls++
		if calls == 1 {
			return nil, model.ErrPrecondition
		}
		return breeder.Breed(ctx, ranked)
	})

	err = c.Monitor(ctx, strategy)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, reported, 1)
	assert.True(t, errors.Is(reported[0], model.ErrPrecondition))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cfg.Metrics.MonitorErrors.WithLabelValues("PreconditionError")))
}

func TestMonitorStopsOnConfigurationError(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := newTestController(t, broker)
	_, evaluated := c.Queues()
	_, err := c.Reset(ctx, seedScalar)
	require.NoError(t, err)
	evaluateAll(t, broker)

	strategy := evo.StrategyFunc[scalar](func(_ context.Context, ranked []model.Genome[scalar]) ([]model.Genome[scalar], error) {
		return ranked[:1], nil
	})
	err = c.Monitor(ctx, strategy)
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Equal(t, 6, depth(t, broker, evaluated))
}

func TestMonitorRequiresStrategy(t *testing.T) {
	c := newTestController(t, queue.NewMemoryBroker())
	err := c.Monitor(context.Background(), nil)
	require.ErrorIs(t, err, model.ErrConfiguration)
}
