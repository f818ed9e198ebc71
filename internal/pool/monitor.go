package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genepool/internal/evo"
	"genepool/internal/model"
)

// Monitor polls the evaluated queue and advances the pool every time a full
// generation has been evaluated. Recoverable errors are logged, reported to
// OnError and retried after RetryDelay; configuration errors stop the loop.
// Monitor returns ctx.Err() once ctx is done.
func (c *Controller[P]) Monitor(ctx context.Context, strategy evo.Strategy[P]) error {
	if strategy == nil {
		return fmt.Errorf("%w: breeding strategy is required", model.ErrConfiguration)
	}
	c.logger.Info("monitoring pool",
		"population", c.cfg.PopulationSize,
		"order", c.cfg.Order,
		"poll_interval", c.cfg.PollInterval)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		outcome, err := c.Advance(ctx, strategy)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.report(err)
			if errors.Is(err, model.ErrConfiguration) {
				return err
			}
			if !sleep(ctx, c.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}
		if outcome.Bred {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller[P]) report(err error) {
	kind := model.ErrorKind(err)
	if kind == "" {
		kind = "Unknown"
	}
	c.logger.Error("monitor iteration failed", "kind", kind, "error", err)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.MonitorErrors.WithLabelValues(kind).Inc()
	}
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
