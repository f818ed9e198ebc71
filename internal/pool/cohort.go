package pool

import (
	"github.com/google/uuid"

	"genepool/internal/model"
	"genepool/internal/queue"
	"genepool/internal/storage"
)

const (
	discardUndecodable = "undecodable"
	discardDuplicate   = "duplicate"
	discardStale       = "stale"
	reasonUnevaluated  = "unevaluated"
)

type drained[P any] struct {
	delivery queue.Delivery
	genome   model.Genome[P]
}

type cohortKey struct {
	session    uuid.UUID
	generation int
}

// batch splits one drain of the evaluated queue. The cohort holds the
// genomes of a single session and generation; everything else is either
// garbage (discarded) or needs another evaluation pass (unevaluated).
type batch[P any] struct {
	key         cohortKey
	cohort      []drained[P]
	unevaluated []queue.Delivery
	discarded   map[string][]queue.Delivery
}

func (b batch[P]) deliveries() []queue.Delivery {
	out := make([]queue.Delivery, len(b.cohort))
	for i, d := range b.cohort {
		out[i] = d.delivery
	}
	return out
}

func (b batch[P]) genomes() []model.Genome[P] {
	out := make([]model.Genome[P], len(b.cohort))
	for i, d := range b.cohort {
		out[i] = d.genome
	}
	return out
}

func (b batch[P]) discardCounts() map[string]int {
	counts := make(map[string]int, len(b.discarded))
	for reason, deliveries := range b.discarded {
		counts[reason] = len(deliveries)
	}
	if len(b.unevaluated) > 0 {
		counts[reasonUnevaluated] = len(b.unevaluated)
	}
	return counts
}

func (b batch[P]) allDiscarded() []queue.Delivery {
	var out []queue.Delivery
	for _, reason := range []string{discardUndecodable, discardDuplicate, discardStale} {
		out = append(out, b.discarded[reason]...)
	}
	return out
}

// partition picks the dominant cohort: the largest group sharing one session
// and generation, ties going to the later generation and then to the group
// seen first.
func partition[P any](deliveries []queue.Delivery) batch[P] {
	out := batch[P]{discarded: map[string][]queue.Delivery{}}
	groups := map[cohortKey][]drained[P]{}
	var order []cohortKey
	seen := map[uuid.UUID]struct{}{}

	for _, d := range deliveries {
		genome, err := storage.DecodeGenome[P](d.Body)
		if err != nil {
			out.discarded[discardUndecodable] = append(out.discarded[discardUndecodable], d)
			continue
		}
		if !genome.Evaluated() {
			out.unevaluated = append(out.unevaluated, d)
			continue
		}
		if _, dup := seen[genome.ID]; dup {
			out.discarded[discardDuplicate] = append(out.discarded[discardDuplicate], d)
			continue
		}
		seen[genome.ID] = struct{}{}
		key := cohortKey{session: genome.Session, generation: genome.Generation}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], drained[P]{delivery: d, genome: genome})
	}

	var best cohortKey
	found := false
	for _, key := range order {
		if !found {
			best, found = key, true
			continue
		}
		size, bestSize := len(groups[key]), len(groups[best])
		if size > bestSize || (size == bestSize && key.generation > best.generation) {
			best = key
		}
	}
	for _, key := range order {
		if found && key == best {
			out.key = key
			out.cohort = groups[key]
			continue
		}
		for _, d := range groups[key] {
			out.discarded[discardStale] = append(out.discarded[discardStale], d.delivery)
		}
	}
	return out
}
