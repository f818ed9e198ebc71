package pool

import (
	"context"
	"encoding/json"
	"fmt"

	"genepool/internal/evo"
	"genepool/internal/model"
	"genepool/internal/queue"
	"genepool/internal/storage"
)

// Advance runs one completion check. When the evaluated queue holds a full
// generation it drains it, ranks and breeds the cohort, publishes the
// children and only then acknowledges the parents. Any failure before the
// children are out requeues the drained parents.
func (c *Controller[P]) Advance(ctx context.Context, strategy evo.Strategy[P]) (Outcome, error) {
	if strategy == nil {
		return Outcome{}, fmt.Errorf("%w: breeding strategy is required", model.ErrConfiguration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.cfg.PopulationSize
	depth, err := c.broker.Depth(ctx, c.evaluated)
	if err != nil {
		return Outcome{}, transportError("inspect evaluated queue", err)
	}
	if depth < size {
		c.setState(StateAwaitingGeneration)
		c.logger.Debug("generation incomplete", "evaluated", depth, "population", size)
		return Outcome{}, nil
	}

	deliveries, err := c.broker.Fetch(ctx, c.evaluated, size)
	if err != nil {
		if len(deliveries) > 0 {
			c.requeue(ctx, deliveries)
		}
		return Outcome{}, transportError("drain evaluated queue", err)
	}
	c.setState(StateDrainedUnacked)

	b := partition[P](deliveries)
	outcome := Outcome{Discarded: b.discardCounts()}
	if err := c.settleLeftovers(ctx, b); err != nil {
		c.requeue(ctx, b.deliveries())
		c.setState(StateAwaitingGeneration)
		return outcome, err
	}

	if len(b.cohort) < size {
		c.requeue(ctx, b.deliveries())
		c.setState(StateAwaitingGeneration)
		c.logger.Info("cohort incomplete after filtering",
			"session", b.key.session, "generation", b.key.generation,
			"cohort", len(b.cohort), "population", size)
		return outcome, nil
	}

	if c.unsent != nil && c.unsent.key == b.key {
		c.logger.Info("resuming partly published generation",
			"session", b.key.session, "generation", b.key.generation+1, "remaining", len(c.unsent.children))
		return c.release(ctx, b, c.unsent.children, c.unsent.total, outcome)
	}

	superseded, err := c.superseded(ctx, b.key)
	if err != nil {
		c.requeue(ctx, b.deliveries())
		c.setState(StateAwaitingGeneration)
		return outcome, err
	}
	if superseded {
		return c.discardSuperseded(ctx, b, outcome)
	}

	ranked, err := evo.Rank(b.genomes(), c.cfg.Order)
	if err != nil {
		c.requeue(ctx, b.deliveries())
		c.setState(StateAwaitingGeneration)
		return outcome, err
	}

	c.setState(StateBreeding)
	next, err := strategy.Breed(ctx, ranked)
	if err != nil {
		c.requeue(ctx, b.deliveries())
		c.setState(StateAwaitingGeneration)
		return outcome, fmt.Errorf("breed generation %d: %w", b.key.generation+1, err)
	}
	if len(next) != size {
		c.requeue(ctx, b.deliveries())
		c.setState(StateAwaitingGeneration)
		return outcome, fmt.Errorf("%w: strategy produced %d genomes, population is %d",
			model.ErrConfiguration, len(next), size)
	}
	return c.release(ctx, b, next, len(next), outcome)
}

// pendingChildren is the unpublished tail of a bred generation, kept so the
// same parents are never bred twice.
type pendingChildren[P any] struct {
	key      cohortKey
	children []model.Genome[P]
	total    int
}

// release publishes children and only then acknowledges their parents. If
// the publish stops part way, the parents are requeued and the rest of the
// children wait in c.unsent for the next drain of the same cohort.
func (c *Controller[P]) release(ctx context.Context, b batch[P], children []model.Genome[P], total int, outcome Outcome) (Outcome, error) {
	sent, err := c.publishAll(ctx, children)
	if err != nil {
		c.unsent = &pendingChildren[P]{key: b.key, children: children[sent:], total: total}
		c.requeue(ctx, b.deliveries())
		c.setState(StateAwaitingGeneration)
		return outcome, err
	}
	c.unsent = nil
	c.lastBred = cohortKey{session: b.key.session, generation: b.key.generation + 1}
	if err := c.broker.Ack(ctx, b.deliveries()); err != nil {
		c.setState(StateAwaitingGeneration)
		return outcome, transportError("acknowledge parents", err)
	}

	outcome.Bred = true
	outcome.Session = b.key.session
	outcome.Generation = b.key.generation + 1
	outcome.Children = total
	c.setState(StateAwaitingGeneration)

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.GenerationsBred.Inc()
		c.cfg.Metrics.CurrentGeneration.Set(float64(outcome.Generation))
	}
	c.logger.Info("generation advanced",
		"session", outcome.Session, "generation", outcome.Generation, "children", outcome.Children)
	if c.cfg.OnGeneration != nil {
		c.cfg.OnGeneration(outcome)
	}
	return outcome, nil
}

// superseded reports whether a later generation of the cohort's session has
// already been published. Parents come back after their children are out
// when the final ack is lost or the controller dies before sending it.
func (c *Controller[P]) superseded(ctx context.Context, key cohortKey) (bool, error) {
	if c.lastBred.session == key.session && c.lastBred.generation > key.generation {
		return true, nil
	}
	for _, name := range []string{c.pending, c.evaluated} {
		bodies, err := c.broker.Peek(ctx, name)
		if err != nil {
			return false, transportError("peek "+name, err)
		}
		for _, body := range bodies {
			g, err := storage.DecodeGenome[json.RawMessage](body)
			if err != nil {
				continue
			}
			if g.Session == key.session && g.Generation > key.generation {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Controller[P]) discardSuperseded(ctx context.Context, b batch[P], outcome Outcome) (Outcome, error) {
	defer c.setState(StateAwaitingGeneration)
	if err := c.broker.Ack(ctx, b.deliveries()); err != nil {
		c.requeue(ctx, b.deliveries())
		return outcome, transportError("acknowledge superseded generation", err)
	}
	outcome.Discarded[discardStale] += len(b.cohort)
	c.logger.Warn("discarded generation that was already bred",
		"session", b.key.session, "generation", b.key.generation, "count", len(b.cohort))
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.GenomesDiscarded.WithLabelValues(discardStale).Add(float64(len(b.cohort)))
	}
	return outcome, nil
}

// settleLeftovers acknowledges garbage and sends unevaluated genomes back
// for another evaluation pass. On failure every delivery it has not settled
// is requeued.
func (c *Controller[P]) settleLeftovers(ctx context.Context, b batch[P]) error {
	discarded := b.allDiscarded()
	for i, d := range b.unevaluated {
		if err := c.publish(ctx, c.pending, d.Body); err != nil {
			c.requeue(ctx, append(append([]queue.Delivery(nil), b.unevaluated[i:]...), discarded...))
			return fmt.Errorf("return unevaluated genome: %w", err)
		}
		if err := c.broker.Ack(ctx, []queue.Delivery{d}); err != nil {
			// The copy on pending is authoritative now; the original must not come back.
			c.logger.Error("dropping unacknowledged original of returned genome", "tag", d.Tag, "error", err)
			if nerr := c.broker.Nack(context.WithoutCancel(ctx), []queue.Delivery{d}, false); nerr != nil {
				c.logger.Error("drop returned genome", "tag", d.Tag, "error", nerr)
			}
			c.requeue(ctx, append(append([]queue.Delivery(nil), b.unevaluated[i+1:]...), discarded...))
			return transportError("acknowledge unevaluated genome", err)
		}
	}
	if len(b.unevaluated) > 0 {
		c.logger.Warn("returned unevaluated genomes to pending queue", "count", len(b.unevaluated))
	}

	if len(discarded) == 0 {
		return nil
	}
	if err := c.broker.Ack(ctx, discarded); err != nil {
		c.requeue(ctx, discarded)
		return transportError("acknowledge discarded genomes", err)
	}
	for reason, deliveries := range b.discarded {
		if len(deliveries) == 0 {
			continue
		}
		c.logger.Warn("discarded genomes from evaluated queue", "reason", reason, "count", len(deliveries))
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.GenomesDiscarded.WithLabelValues(reason).Add(float64(len(deliveries)))
		}
	}
	return nil
}

// requeue returns deliveries to their queue even when ctx is already
// cancelled, so an interrupted step leaves no message unacknowledged.
func (c *Controller[P]) requeue(ctx context.Context, deliveries []queue.Delivery) {
	if len(deliveries) == 0 {
		return
	}
	if err := c.broker.Nack(context.WithoutCancel(ctx), deliveries, true); err != nil {
		c.logger.Error("requeue drained genomes", "count", len(deliveries), "error", err)
	}
}
