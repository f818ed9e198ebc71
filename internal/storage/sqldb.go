package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"genepool/internal/model"
)

// sqlStore keeps dumps in two tables: the encoded dump and per-queue message
// counts that ListDumps reads without decoding payloads.
type sqlStore struct {
	driver string
	dsn    string
	name   string
	// numbered switches ? placeholders to $1, $2, ...
	numbered bool
	schema   string

	mu sync.RWMutex
	db *sql.DB
}

func (s *sqlStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return fmt.Errorf("%s location is required", s.name)
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, s.schema); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *sqlStore) query(q string) string {
	if !s.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) SaveDump(ctx context.Context, dump model.Dump) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeDump(dump)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, s.query(`
		INSERT INTO dumps (id, schema_version, codec_version, pool, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			pool = excluded.pool,
			created_at = excluded.created_at,
			payload = excluded.payload
	`), dump.ID, dump.SchemaVersion, dump.CodecVersion, dump.Pool, dump.CreatedAt.UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.query(`DELETE FROM dump_counts WHERE dump_id = ?`), dump.ID); err != nil {
		return err
	}
	for name, bodies := range dump.Queues {
		if _, err := tx.ExecContext(ctx, s.query(`
			INSERT INTO dump_counts (dump_id, queue, messages) VALUES (?, ?, ?)
		`), dump.ID, name, len(bodies)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetDump(ctx context.Context, id string) (model.Dump, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Dump{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, s.query(`SELECT payload FROM dumps WHERE id = ?`), id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Dump{}, false, nil
		}
		return model.Dump{}, false, err
	}

	dump, err := DecodeDump(payload)
	if err != nil {
		return model.Dump{}, false, fmt.Errorf("decode dump %s: %w", id, err)
	}
	return dump, true, nil
}

func (s *sqlStore) ListDumps(ctx context.Context) ([]model.DumpSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT d.id, d.pool, d.created_at, c.queue, c.messages
		FROM dumps d LEFT JOIN dump_counts c ON c.dump_id = d.id
		ORDER BY d.created_at, d.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]*model.DumpSummary{}
	var order []string
	for rows.Next() {
		var (
			id, pool, createdAt string
			queue               sql.NullString
			messages            sql.NullInt64
		)
		if err := rows.Scan(&id, &pool, &createdAt, &queue, &messages); err != nil {
			return nil, err
		}
		summary, ok := byID[id]
		if !ok {
			created, err := time.Parse(time.RFC3339Nano, createdAt)
			if err != nil {
				return nil, fmt.Errorf("parse created_at for dump %s: %w", id, err)
			}
			summary = &model.DumpSummary{ID: id, Pool: pool, CreatedAt: created, Counts: map[string]int{}}
			byID[id] = summary
			order = append(order, id)
		}
		if queue.Valid {
			summary.Counts[queue.String] = int(messages.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.DumpSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqlStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}
