// Package genepool wires configuration, broker, dump store and breeding
// into a pool of feed-forward networks driven by external evaluators.
package genepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"genepool/internal/botnet"
	"genepool/internal/config"
	"genepool/internal/evo"
	"genepool/internal/metrics"
	"genepool/internal/model"
	"genepool/internal/pool"
	"genepool/internal/queue"
	"genepool/internal/storage"
)

type Options struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector
	// Rand seeds generation-0 weights. Defaults to a time-seeded source.
	Rand *rand.Rand
	// Broker and Store override the ones named by Config.
	Broker queue.Broker
	Store  storage.Store
}

type Client struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	rng     *rand.Rand

	broker  queue.Broker
	store   storage.Store
	breeder *evo.VariableMutationBreeder[*botnet.Net]
	pool    *pool.Controller[*botnet.Net]
}

type Status = pool.Status

func New(ctx context.Context, opts Options) (*Client, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order, err := cfg.SortOrder()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.New()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	store := opts.Store
	if store == nil {
		store, err = storage.NewStore(cfg.Store.Kind, cfg.Store.Location())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
		}
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, fmt.Errorf("init dump store: %w", err)
	}

	broker := opts.Broker
	if broker == nil {
		broker, err = queue.Dial(ctx, cfg.Pool)
		if err != nil {
			_ = storage.CloseIfSupported(store)
			if !errors.Is(err, model.ErrConfiguration) {
				err = fmt.Errorf("%w: connect to pool: %w", model.ErrTransport, err)
			}
			return nil, err
		}
	}

	client := &Client{
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		rng:     rng,
		broker:  broker,
		store:   store,
	}

	client.breeder, err = evo.NewVariableMutationBreeder[*botnet.Net](cfg.BreedConfig(), evo.BreederOptions{
		Logger:   logger,
		OnReport: client.observeReport,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	client.pool, err = pool.New[*botnet.Net](broker, pool.Config{
		Name:           cfg.Queue,
		PopulationSize: cfg.Breeding.PopulationSize,
		Order:          order,
		PollInterval:   cfg.Monitor.PollInterval,
		RetryDelay:     cfg.Monitor.RetryDelay,
		PublishRetries: cfg.Monitor.PublishRetries,
		Store:          store,
		Metrics:        collector,
		Logger:         logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.pool.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) Close() error {
	return errors.Join(c.broker.Close(), storage.CloseIfSupported(c.store))
}

func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// Reset purges the pool and seeds a new session of randomly initialised
// networks.
func (c *Client) Reset(ctx context.Context) (uuid.UUID, error) {
	net := c.cfg.Network
	return c.pool.Reset(ctx, func(int) (*botnet.Net, error) {
		return botnet.New(net.Inputs, net.Hidden, net.Outputs, c.rng)
	})
}

func (c *Client) EmptyPool(ctx context.Context) error {
	return c.pool.EmptyPool(ctx)
}

func (c *Client) AddGenome(ctx context.Context, g model.Genome[*botnet.Net]) error {
	return c.pool.AddGenome(ctx, g)
}

// Run monitors the pool until ctx is cancelled or a configuration error
// makes progress impossible.
func (c *Client) Run(ctx context.Context) error {
	return c.pool.Monitor(ctx, c.breeder)
}

func (c *Client) Advance(ctx context.Context) (pool.Outcome, error) {
	return c.pool.Advance(ctx, c.breeder)
}

func (c *Client) Dump(ctx context.Context) (model.Dump, error) {
	return c.pool.Dump(ctx)
}

// Restore replaces the pool contents with a saved dump.
func (c *Client) Restore(ctx context.Context, dumpID string) (model.Dump, error) {
	dump, err := c.Inspect(ctx, dumpID)
	if err != nil {
		return model.Dump{}, err
	}
	if dump.PopulationSize != 0 && dump.PopulationSize != c.cfg.Breeding.PopulationSize {
		c.logger.Warn("dump population differs from configured population",
			"dump", dump.ID, "dump_population", dump.PopulationSize, "population", c.cfg.Breeding.PopulationSize)
	}
	return dump, c.pool.Restore(ctx, dump)
}

func (c *Client) Inspect(ctx context.Context, dumpID string) (model.Dump, error) {
	dump, ok, err := c.store.GetDump(ctx, dumpID)
	if err != nil {
		return model.Dump{}, fmt.Errorf("load dump %s: %w", dumpID, err)
	}
	if !ok {
		return model.Dump{}, fmt.Errorf("dump not found: %s", dumpID)
	}
	return dump, nil
}

func (c *Client) Dumps(ctx context.Context) ([]model.DumpSummary, error) {
	return c.store.ListDumps(ctx)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	return c.pool.Status(ctx)
}

func (c *Client) observeReport(r evo.Report) {
	c.metrics.EliteFitnessSum.Set(r.FitnessSum)
	c.metrics.BestFitness.Set(r.BestFitness)
}
