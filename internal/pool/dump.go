package pool

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"genepool/internal/model"
	"genepool/internal/queue"
)

// Dump snapshots both queues without consuming them and saves the snapshot
// to the configured store. Messages drained by another controller at the
// same moment are not visible to the snapshot.
func (c *Controller[P]) Dump(ctx context.Context) (model.Dump, error) {
	if c.cfg.Store == nil {
		return model.Dump{}, fmt.Errorf("%w: dump store is required", model.ErrConfiguration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dump := model.Dump{
		VersionedRecord: model.CurrentVersion(),
		ID:              uuid.NewString(),
		CreatedAt:       c.cfg.Now().UTC(),
		Pool:            c.cfg.Name,
		PopulationSize:  c.cfg.PopulationSize,
		Queues:          make(map[string][][]byte, 2),
	}
	for _, name := range []string{c.pending, c.evaluated} {
		bodies, err := c.broker.Peek(ctx, name)
		if err != nil {
			return model.Dump{}, transportError("peek "+name, err)
		}
		dump.Queues[name] = bodies
	}
	if err := c.cfg.Store.SaveDump(ctx, dump); err != nil {
		return model.Dump{}, fmt.Errorf("save dump %s: %w", dump.ID, err)
	}
	c.logger.Info("dumped pool", "dump", dump.ID, "messages", dump.MessageCount())
	return dump, nil
}

// Restore empties the pool and republishes every message of dump to the
// matching queue. Queue names are matched by suffix so a dump taken under
// one pool name can seed another.
func (c *Controller[P]) Restore(ctx context.Context, dump model.Dump) error {
	targets := make(map[string]string, len(dump.Queues))
	for name := range dump.Queues {
		switch {
		case strings.HasSuffix(name, queue.PendingSuffix):
			targets[name] = c.pending
		case strings.HasSuffix(name, queue.EvaluatedSuffix):
			targets[name] = c.evaluated
		default:
			return fmt.Errorf("%w: dump %s holds unknown queue %q", model.ErrConfiguration, dump.ID, name)
		}
	}
	if dump.Pool != c.cfg.Name {
		c.logger.Warn("restoring dump taken from another pool", "dump", dump.ID, "source", dump.Pool)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.emptyPool(ctx); err != nil {
		return err
	}
	for source, bodies := range dump.Queues {
		target := targets[source]
		for i, body := range bodies {
			if err := c.publish(ctx, target, body); err != nil {
				return fmt.Errorf("restore %s message %d of %d: %w", target, i, len(bodies), err)
			}
		}
	}
	c.setState(StateAwaitingGeneration)
	c.logger.Info("restored pool", "dump", dump.ID, "messages", dump.MessageCount())
	return nil
}
