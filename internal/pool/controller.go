// Package pool drives a queue-backed population: it seeds generation 0,
// waits for workers to evaluate a full generation, breeds the next one and
// republishes it. The broker is the only source of truth for population
// state; the controller keeps nothing authoritative between iterations.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"genepool/internal/evo"
	"genepool/internal/metrics"
	"genepool/internal/model"
	"genepool/internal/queue"
	"genepool/internal/storage"
)

const (
	defaultPollInterval         = 2 * time.Second
	defaultRetryDelay           = 5 * time.Second
	defaultRetryInitialInterval = 200 * time.Millisecond
	defaultRetryMaxInterval     = 5 * time.Second
)

type Config struct {
	// Name is the queue base name; genomes flow through Name.pending and
	// Name.evaluated.
	Name           string
	PopulationSize int
	Order          model.SortOrder

	PollInterval         time.Duration
	RetryDelay           time.Duration
	PublishRetries       int
	RetryInitialInterval time.Duration

	Store   storage.Store
	Metrics *metrics.Collector
	Logger  *slog.Logger

	// OnError sees every error that ends a monitor iteration.
	OnError func(error)
	// OnGeneration sees every completed breeding step.
	OnGeneration func(Outcome)
	Now          func() time.Time
}

// Outcome describes one Advance call.
type Outcome struct {
	Bred       bool
	Session    uuid.UUID
	Generation int
	Children   int
	// Discarded counts drained deliveries left out of the cohort, by reason.
	Discarded map[string]int
}

type Controller[P any] struct {
	cfg       Config
	broker    queue.Broker
	logger    *slog.Logger
	pending   string
	evaluated string

	// mu serialises every operation that drains, purges or publishes so
	// only one breeding step runs at a time.
	mu sync.Mutex

	// lastBred is the key of the newest generation this controller published.
	lastBred cohortKey
	// unsent holds children of a partly published generation.
	unsent *pendingChildren[P]

	stateMu sync.RWMutex
	state   State
}

func New[P any](broker queue.Broker, cfg Config) (*Controller[P], error) {
	if broker == nil {
		return nil, fmt.Errorf("%w: broker is required", model.ErrConfiguration)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: pool name is required", model.ErrConfiguration)
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0", model.ErrConfiguration)
	}
	if cfg.Order != model.LessIsBetter && cfg.Order != model.MoreIsBetter {
		return nil, fmt.Errorf("%w: unknown sort order %s", model.ErrConfiguration, cfg.Order)
	}
	if cfg.PublishRetries < 0 {
		return nil, fmt.Errorf("%w: publish retries must be >= 0", model.ErrConfiguration)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaultRetryInitialInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	pending, evaluated := queue.Names(cfg.Name)
	return &Controller[P]{
		cfg:       cfg,
		broker:    broker,
		logger:    cfg.Logger.With("pool", cfg.Name),
		pending:   pending,
		evaluated: evaluated,
		state:     StateEmpty,
	}, nil
}

// Init declares the pool's queues.
func (c *Controller[P]) Init(ctx context.Context) error {
	if err := c.broker.Declare(ctx, c.pending, c.evaluated); err != nil {
		return transportError("declare queues", err)
	}
	return nil
}

func (c *Controller[P]) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller[P]) setState(next State) {
	c.stateMu.Lock()
	prev := c.state
	c.state = next
	c.stateMu.Unlock()
	if prev != next {
		c.logger.Debug("pool state changed", "from", prev, "to", next)
	}
}

// Queues returns the pending and evaluated queue names.
func (c *Controller[P]) Queues() (pending, evaluated string) {
	return c.pending, c.evaluated
}

// Depths reports the number of ready messages in both queues.
func (c *Controller[P]) Depths(ctx context.Context) (pending, evaluated int, err error) {
	pending, err = c.broker.Depth(ctx, c.pending)
	if err != nil {
		return 0, 0, transportError("inspect pending queue", err)
	}
	evaluated, err = c.broker.Depth(ctx, c.evaluated)
	if err != nil {
		return 0, 0, transportError("inspect evaluated queue", err)
	}
	return pending, evaluated, nil
}

// Status is a point-in-time view of the pool for operators.
type Status struct {
	Queue     string `json:"queue"`
	State     string `json:"state"`
	Pending   int    `json:"pending"`
	Evaluated int    `json:"evaluated"`
}

func (c *Controller[P]) Status(ctx context.Context) (Status, error) {
	pending, evaluated, err := c.Depths(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Queue:     c.cfg.Name,
		State:     c.State().String(),
		Pending:   pending,
		Evaluated: evaluated,
	}, nil
}

// EmptyPool purges every queued genome regardless of generation or
// evaluation status, then verifies both queues read empty.
func (c *Controller[P]) EmptyPool(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emptyPool(ctx)
}

func (c *Controller[P]) emptyPool(ctx context.Context) error {
	for _, name := range []string{c.pending, c.evaluated} {
		var purged int
		err := c.retry(ctx, "purge "+name, func() error {
			n, err := c.broker.Purge(ctx, name)
			purged = n
			return err
		})
		if err != nil {
			return err
		}
		c.logger.Info("purged queue", "queue", name, "messages", purged)
	}
	for _, name := range []string{c.pending, c.evaluated} {
		depth, err := c.broker.Depth(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: inspect %s after purge: %w", model.ErrPurgeConfirmation, name, err)
		}
		if depth != 0 {
			return fmt.Errorf("%w: queue %s still holds %d messages after purge", model.ErrPurgeConfirmation, name, depth)
		}
	}
	c.lastBred = cohortKey{}
	c.unsent = nil
	c.setState(StateEmpty)
	return nil
}

// AddGenome publishes one genome for evaluation, retrying with backoff.
func (c *Controller[P]) AddGenome(ctx context.Context, g model.Genome[P]) error {
	body, err := storage.EncodeGenome(g)
	if err != nil {
		return fmt.Errorf("encode genome %s: %w", g.ID, err)
	}
	if err := c.publish(ctx, c.pending, body); err != nil {
		return fmt.Errorf("add genome %s: %w", g.ID, err)
	}
	return nil
}

func (c *Controller[P]) publish(ctx context.Context, name string, body []byte) error {
	err := c.retry(ctx, "publish to "+name, func() error {
		return c.broker.Publish(ctx, name, body)
	})
	if err != nil {
		return err
	}
	if c.cfg.Metrics != nil && name == c.pending {
		c.cfg.Metrics.GenomesPublished.Inc()
	}
	return nil
}

// publishAll publishes genomes in order and reports how many went out.
func (c *Controller[P]) publishAll(ctx context.Context, genomes []model.Genome[P]) (int, error) {
	for i, g := range genomes {
		if err := c.AddGenome(ctx, g); err != nil {
			return i, fmt.Errorf("published %d of %d genomes: %w", i, len(genomes), err)
		}
	}
	return len(genomes), nil
}

// Reset empties the pool and seeds generation 0 under a fresh session.
func (c *Controller[P]) Reset(ctx context.Context, factory func(i int) (P, error)) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.emptyPool(ctx); err != nil {
		return uuid.Nil, err
	}
	session := model.NewSession()
	genomes, err := evo.Spawn(session, c.cfg.PopulationSize, factory)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := c.publishAll(ctx, genomes); err != nil {
		return uuid.Nil, err
	}
	c.setState(StateSeeded)
	c.logger.Info("seeded generation 0", "session", session, "genomes", len(genomes))
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CurrentGeneration.Set(0)
	}
	return session, nil
}

func (c *Controller[P]) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitialInterval
	policy.MaxInterval = defaultRetryMaxInterval
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(fn,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.PublishRetries)), ctx),
		func(err error, wait time.Duration) {
			c.logger.Warn("retrying broker operation", "op", op, "error", err, "wait", wait)
		},
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transportError(op, err)
	}
	return nil
}

func transportError(op string, err error) error {
	if errors.Is(err, model.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", model.ErrTransport, op, err)
}
