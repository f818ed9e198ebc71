package evo

import (
	"fmt"

	"genepool/internal/model"
)

const (
	DefaultPopulationSize = 600
	DefaultEliteCount     = 40
	DefaultVariantCount   = 14
	DefaultBaseSpread     = 0.05
	DefaultSpreadStep     = 0.005
)

type BreedConfig struct {
	PopulationSize int
	EliteCount     int
	VariantCount   int
	BaseSpread     float64
	SpreadStep     float64
	Workers        int
}

func DefaultBreedConfig() BreedConfig {
	return BreedConfig{
		PopulationSize: DefaultPopulationSize,
		EliteCount:     DefaultEliteCount,
		VariantCount:   DefaultVariantCount,
		BaseSpread:     DefaultBaseSpread,
		SpreadStep:     DefaultSpreadStep,
		Workers:        4,
	}
}

// Validate enforces elite_count * (1 + variant_count) == population_size and
// a strictly increasing spread across an elite's variants.
func (c BreedConfig) Validate() error {
	if c.PopulationSize <= 0 {
		return fmt.Errorf("%w: population size must be > 0", model.ErrConfiguration)
	}
	if c.EliteCount <= 0 {
		return fmt.Errorf("%w: elite count must be > 0", model.ErrConfiguration)
	}
	if c.VariantCount < 0 {
		return fmt.Errorf("%w: variant count must be >= 0", model.ErrConfiguration)
	}
	if c.BaseSpread <= 0 {
		return fmt.Errorf("%w: base spread must be > 0", model.ErrConfiguration)
	}
	if c.SpreadStep < 0 || (c.VariantCount > 1 && c.SpreadStep == 0) {
		return fmt.Errorf("%w: spread step must be > 0 when an elite has more than one variant", model.ErrConfiguration)
	}
	if got := c.EliteCount * (1 + c.VariantCount); got != c.PopulationSize {
		return fmt.Errorf("%w: elite count %d x (1 + variant count %d) = %d, population size is %d",
			model.ErrConfiguration, c.EliteCount, c.VariantCount, got, c.PopulationSize)
	}
	return nil
}

// Spread is the noise standard deviation for the mutant at index i.
func (c BreedConfig) Spread(i int) float64 {
	return c.BaseSpread + float64(i)*c.SpreadStep
}
