package storage

import (
	"errors"
	"testing"
	"time"

	"genepool/internal/model"
)

func TestDumpCodecRoundTrip(t *testing.T) {
	input := sampleDump("d1", time.Unix(42, 0).UTC())
	data, err := EncodeDump(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeDump(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.ID != "d1" || output.MessageCount() != 3 {
		t.Fatalf("unexpected dump: %+v", output)
	}
}

func TestDecodeDumpVersionMismatch(t *testing.T) {
	_, err := DecodeDump([]byte(`{"schema_version":9,"codec_version":1,"id":"x"}`))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestGenomeCodec(t *testing.T) {
	genome := model.NewGenome(4, model.NewSession(), []float64{0.5, -0.5}).WithFitness(2)
	data, err := EncodeGenome(genome)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeGenome[[]float64](data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != genome.ID || decoded.Generation != 4 || decoded.Session != genome.Session {
		t.Fatalf("unexpected genome: %+v", decoded)
	}
	if decoded.Fitness == nil || *decoded.Fitness != 2 {
		t.Fatalf("unexpected fitness: %v", decoded.Fitness)
	}
}

func TestDecodeGenomeRejectsForeignVersion(t *testing.T) {
	_, err := DecodeGenome[int]([]byte(`{"schema_version":2,"codec_version":1,"payload":1}`))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	_, err = DecodeGenome[int]([]byte(`{"codec_version":1,"payload":1}`))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch for partial versions, got %v", err)
	}
}

func TestDecodeGenomeWithoutVersionsReadsAsCurrent(t *testing.T) {
	session := model.NewSession()
	body := `{"uuid":"6f1c1d3e-6b1f-4c52-9a53-1f3f9b0e2a11","generation":3,"fitness":1.5,"experiment":"` +
		session.String() + `","payload":7}`
	genome, err := DecodeGenome[int]([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if genome.VersionedRecord != model.CurrentVersion() {
		t.Fatalf("expected current version, got %+v", genome.VersionedRecord)
	}
	if genome.Session != session || genome.Generation != 3 || genome.Payload != 7 {
		t.Fatalf("unexpected genome: %+v", genome)
	}
	if genome.Fitness == nil || *genome.Fitness != 1.5 {
		t.Fatalf("unexpected fitness: %v", genome.Fitness)
	}
}
