package evo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat/distuv"

	"genepool/internal/model"
)

// Candidate is the capability set breeding needs from a payload.
type Candidate[P any] interface {
	Clone() P
	Variant(noise model.Noise) P
}

// Strategy turns one fitness-ranked generation into the next generation.
type Strategy[P any] interface {
	Breed(ctx context.Context, ranked []model.Genome[P]) ([]model.Genome[P], error)
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc[P any] func(ctx context.Context, ranked []model.Genome[P]) ([]model.Genome[P], error)

func (f StrategyFunc[P]) Breed(ctx context.Context, ranked []model.Genome[P]) ([]model.Genome[P], error) {
	return f(ctx, ranked)
}

// Report summarises one breeding step. It has no effect on selection.
type Report struct {
	Session      string
	Generation   int
	Elites       int
	Children     int
	FitnessSum   float64
	BestFitness  float64
	WorstFitness float64
}

// NormalNoise is the default zero-mean mutation distribution.
func NormalNoise(spread float64) model.Noise {
	return distuv.Normal{Mu: 0, Sigma: spread}
}

type BreederOptions struct {
	Logger   *slog.Logger
	Noise    func(spread float64) model.Noise
	OnReport func(Report)
}

// VariableMutationBreeder keeps the EliteCount best genomes, re-emits each
// one unchanged and adds VariantCount mutants whose noise spread grows with
// the mutant index.
type VariableMutationBreeder[P Candidate[P]] struct {
	cfg      BreedConfig
	logger   *slog.Logger
	noise    func(spread float64) model.Noise
	onReport func(Report)
}

func NewVariableMutationBreeder[P Candidate[P]](cfg BreedConfig, opts BreederOptions) (*VariableMutationBreeder[P], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Noise == nil {
		opts.Noise = NormalNoise
	}
	return &VariableMutationBreeder[P]{
		cfg:      cfg,
		logger:   opts.Logger,
		noise:    opts.Noise,
		onReport: opts.OnReport,
	}, nil
}

func (b *VariableMutationBreeder[P]) Config() BreedConfig {
	return b.cfg
}

func (b *VariableMutationBreeder[P]) Breed(ctx context.Context, ranked []model.Genome[P]) ([]model.Genome[P], error) {
	if len(ranked) < b.cfg.EliteCount {
		return nil, fmt.Errorf("%w: breeding needs %d evaluated genomes, got %d", model.ErrPrecondition, b.cfg.EliteCount, len(ranked))
	}
	elites := ranked[:b.cfg.EliteCount]

	report := Report{
		Session:    elites[0].Session.String(),
		Generation: elites[0].Generation + 1,
		Elites:     len(elites),
	}
	for i, elite := range elites {
		if elite.Fitness == nil {
			return nil, fmt.Errorf("%w: elite %s at rank %d has no fitness", model.ErrPrecondition, elite.ID, i)
		}
		fitness := *elite.Fitness
		if i == 0 {
			report.BestFitness = fitness
		}
		report.WorstFitness = fitness
		report.FitnessSum += fitness
		b.logger.Debug("elite genome", "id", elite.ID, "rank", i, "fitness", fitness)
	}

	perParent := 1 + b.cfg.VariantCount
	next := make([]model.Genome[P], len(elites)*perParent)
	workers := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(b.cfg.Workers)
	for i, parent := range elites {
		parent := parent
		base := i * perParent
		next[base] = offspring(parent, parent.Payload.Clone())
		for v := 0; v < b.cfg.VariantCount; v++ {
			v := v
			noise := b.noise(b.cfg.Spread(v))
			workers.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				next[base+1+v] = offspring(parent, parent.Payload.Variant(noise))
				return nil
			})
		}
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}

	report.Children = len(next)
	b.logger.Info("bred next generation",
		"session", report.Session,
		"generation", report.Generation,
		"children", report.Children,
		"elite_fitness_sum", report.FitnessSum,
		"best_fitness", report.BestFitness,
	)
	if b.onReport != nil {
		b.onReport(report)
	}
	return next, nil
}

func offspring[P any](parent model.Genome[P], payload P) model.Genome[P] {
	return model.NewGenome(parent.Generation+1, parent.Session, payload)
}
