package storage

import (
	"context"

	"genepool/internal/model"
)

// Store persists queue snapshots taken by the pool controller.
type Store interface {
	Init(ctx context.Context) error
	SaveDump(ctx context.Context, dump model.Dump) error
	GetDump(ctx context.Context, id string) (model.Dump, bool, error)
	ListDumps(ctx context.Context) ([]model.DumpSummary, error)
}
