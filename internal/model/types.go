package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// VersionedRecord captures schema and codec evolution for data that crosses
// the queue or lands on disk.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// Genome is the envelope that travels through the pool. Fitness stays nil
// until an external worker evaluates the payload.
type Genome[P any] struct {
	VersionedRecord
	ID         uuid.UUID `json:"uuid"`
	Generation int       `json:"generation"`
	Fitness    *float64  `json:"fitness"`
	Session    uuid.UUID `json:"experiment"`
	Payload    P         `json:"payload"`
}

// NewGenome wraps payload in a fresh, unevaluated envelope.
func NewGenome[P any](generation int, session uuid.UUID, payload P) Genome[P] {
	return Genome[P]{
		VersionedRecord: CurrentVersion(),
		ID:              uuid.New(),
		Generation:      generation,
		Session:         session,
		Payload:         payload,
	}
}

func (g Genome[P]) Evaluated() bool {
	return g.Fitness != nil
}

// WithFitness returns a copy of g carrying the given score.
func (g Genome[P]) WithFitness(fitness float64) Genome[P] {
	g.Fitness = &fitness
	return g
}

// NewSession returns the identifier shared by every genome descended from
// one generation-0 seeding.
func NewSession() uuid.UUID {
	return uuid.New()
}

// Dump is a non-destructive snapshot of every queue backing a pool. Bodies
// are kept byte-for-byte as they were read from the broker.
type Dump struct {
	VersionedRecord
	ID             string              `json:"id"`
	CreatedAt      time.Time           `json:"created_at"`
	Pool           string              `json:"pool"`
	PopulationSize int                 `json:"population_size"`
	Queues         map[string][][]byte `json:"queues"`
}

func (d Dump) MessageCount() int {
	total := 0
	for _, bodies := range d.Queues {
		total += len(bodies)
	}
	return total
}

type DumpSummary struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Pool      string         `json:"pool"`
	Counts    map[string]int `json:"counts"`
}

func (d Dump) Summary() DumpSummary {
	counts := make(map[string]int, len(d.Queues))
	for name, bodies := range d.Queues {
		counts[name] = len(bodies)
	}
	return DumpSummary{ID: d.ID, CreatedAt: d.CreatedAt, Pool: d.Pool, Counts: counts}
}
