package evo

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"genepool/internal/model"
)

// Rank returns a copy of genomes sorted best-first. Equal fitness keeps the
// input order.
func Rank[P any](genomes []model.Genome[P], order model.SortOrder) ([]model.Genome[P], error) {
	if order != model.LessIsBetter && order != model.MoreIsBetter {
		return nil, fmt.Errorf("%w: unknown sort order %s", model.ErrConfiguration, order)
	}
	ranked := make([]model.Genome[P], len(genomes))
	copy(ranked, genomes)
	for i, g := range ranked {
		if g.Fitness == nil {
			return nil, fmt.Errorf("%w: genome %s at index %d is not evaluated", model.ErrPrecondition, g.ID, i)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return order.Better(*ranked[i].Fitness, *ranked[j].Fitness)
	})
	return ranked, nil
}

// Spawn creates a fresh generation-0 population under one session.
func Spawn[P any](session uuid.UUID, size int, factory func(i int) (P, error)) ([]model.Genome[P], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0", model.ErrConfiguration)
	}
	if factory == nil {
		return nil, fmt.Errorf("payload factory is required")
	}
	out := make([]model.Genome[P], 0, size)
	for i := 0; i < size; i++ {
		payload, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("spawn payload %d: %w", i, err)
		}
		out = append(out, model.NewGenome(0, session, payload))
	}
	return out, nil
}
