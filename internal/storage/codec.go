package storage

import (
	"encoding/json"
	"errors"

	"genepool/internal/model"
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeDump(d model.Dump) ([]byte, error) {
	return json.Marshal(d)
}

func DecodeDump(data []byte) (model.Dump, error) {
	var dump model.Dump
	if err := json.Unmarshal(data, &dump); err != nil {
		return model.Dump{}, err
	}
	if err := checkVersion(dump.VersionedRecord); err != nil {
		return model.Dump{}, err
	}
	return dump, nil
}

// DecodeGenome decodes one queue message, rejecting envelopes written by a
// different schema or codec version. An envelope without version fields is
// read as the current version.
func DecodeGenome[P any](data []byte) (model.Genome[P], error) {
	var genome model.Genome[P]
	if err := json.Unmarshal(data, &genome); err != nil {
		return model.Genome[P]{}, err
	}
	if genome.VersionedRecord == (model.VersionedRecord{}) {
		genome.VersionedRecord = model.CurrentVersion()
	}
	if err := checkVersion(genome.VersionedRecord); err != nil {
		return model.Genome[P]{}, err
	}
	return genome, nil
}

func EncodeGenome[P any](g model.Genome[P]) ([]byte, error) {
	return json.Marshal(g)
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != model.CurrentSchemaVersion || v.CodecVersion != model.CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
