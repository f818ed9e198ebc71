package storage

import (
	_ "github.com/lib/pq"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS dumps (
		id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		codec_version INTEGER NOT NULL,
		pool TEXT NOT NULL,
		created_at TEXT NOT NULL,
		payload BYTEA NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dump_counts (
		dump_id TEXT NOT NULL REFERENCES dumps (id) ON DELETE CASCADE,
		queue TEXT NOT NULL,
		messages INTEGER NOT NULL,
		PRIMARY KEY (dump_id, queue)
	);
`

// PostgresStore shares one dump table set across every controller pointed at
// the same database.
type PostgresStore struct {
	sqlStore
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{sqlStore{driver: "postgres", dsn: dsn, name: "postgres dsn", numbered: true, schema: postgresSchema}}
}
