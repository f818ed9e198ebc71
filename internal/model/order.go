package model

import (
	"fmt"
	"strings"
)

// SortOrder fixes how fitness values rank for the lifetime of a pool.
type SortOrder int

const (
	LessIsBetter SortOrder = iota + 1
	MoreIsBetter
)

func (o SortOrder) String() string {
	switch o {
	case LessIsBetter:
		return "less_is_better"
	case MoreIsBetter:
		return "more_is_better"
	default:
		return fmt.Sprintf("sort_order(%d)", int(o))
	}
}

// Better reports whether fitness a ranks strictly ahead of b.
func (o SortOrder) Better(a, b float64) bool {
	if o == MoreIsBetter {
		return a > b
	}
	return a < b
}

func ParseSortOrder(raw string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "less_is_better", "less", "min", "lessisbetter":
		return LessIsBetter, nil
	case "more_is_better", "more", "max", "moreisbetter":
		return MoreIsBetter, nil
	default:
		return 0, fmt.Errorf("%w: unknown sort order %q", ErrConfiguration, raw)
	}
}

// Noise is a zero-mean distribution handed to a payload's variant operator.
type Noise interface {
	Rand() float64
	StdDev() float64
}
