package storage

import (
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS dumps (
		id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		codec_version INTEGER NOT NULL,
		pool TEXT NOT NULL,
		created_at TEXT NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dump_counts (
		dump_id TEXT NOT NULL,
		queue TEXT NOT NULL,
		messages INTEGER NOT NULL,
		PRIMARY KEY (dump_id, queue)
	);
`

type SQLiteStore struct {
	sqlStore
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{sqlStore{driver: "sqlite", dsn: path, name: "sqlite path", schema: sqliteSchema}}
}
