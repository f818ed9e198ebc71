package storage

import (
	"context"
	"testing"
	"time"

	"genepool/internal/model"
)

func sampleDump(id string, createdAt time.Time) model.Dump {
	return model.Dump{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		CreatedAt:       createdAt,
		Pool:            "genepool",
		PopulationSize:  3,
		Queues: map[string][][]byte{
			"genepool.pending":   {[]byte(`{"a":1}`), []byte(`{"b":2}`)},
			"genepool.evaluated": {[]byte(`{"c":3}`)},
		},
	}
}

func TestMemoryStoreDumpRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := sampleDump("d1", time.Unix(100, 0).UTC())
	if err := store.SaveDump(ctx, input); err != nil {
		t.Fatalf("save dump: %v", err)
	}

	input.Queues["genepool.pending"][0][0] = 'X'

	output, ok, err := store.GetDump(ctx, "d1")
	if err != nil {
		t.Fatalf("get dump: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted dump")
	}
	if string(output.Queues["genepool.pending"][0]) != `{"a":1}` {
		t.Fatalf("stored dump aliases caller memory: %q", output.Queues["genepool.pending"][0])
	}
	if output.MessageCount() != 3 {
		t.Fatalf("unexpected message count: %d", output.MessageCount())
	}
}

func TestMemoryStoreMissingDump(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, ok, err := store.GetDump(ctx, "missing")
	if err != nil {
		t.Fatalf("get dump: %v", err)
	}
	if ok {
		t.Fatal("expected missing dump")
	}
}

func TestMemoryStoreListDumpsOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, d := range []model.Dump{
		sampleDump("late", time.Unix(300, 0).UTC()),
		sampleDump("early", time.Unix(100, 0).UTC()),
	} {
		if err := store.SaveDump(ctx, d); err != nil {
			t.Fatalf("save dump: %v", err)
		}
	}

	summaries, err := store.ListDumps(ctx)
	if err != nil {
		t.Fatalf("list dumps: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ID != "early" || summaries[1].ID != "late" {
		t.Fatalf("unexpected order: %+v", summaries)
	}
	if summaries[0].Counts["genepool.pending"] != 2 {
		t.Fatalf("unexpected counts: %+v", summaries[0].Counts)
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	if err := NewMemoryStore().SaveDump(context.Background(), sampleDump("d", time.Now())); err == nil {
		t.Fatal("expected error before init")
	}
}
