// Package audit records which redactions and archive cleanups were applied,
// by whom and to what. Records hold counts and part names only, never pixel
// data.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelveil/pixelveil/backend-go/internal/typeid"
)

var ErrNotFound = errors.New("audit record not found")

type Kind string

const (
	KindRedact  Kind = "redact"
	KindHandoff Kind = "handoff"
	KindClean   Kind = "clean"
)

type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Subject   string    `json:"subject"`
	Target    string    `json:"target"`
	Regions   int       `json:"regions"`
	Removed   []string  `json:"removed"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	target     TEXT NOT NULL,
	regions    INTEGER NOT NULL DEFAULT 0,
	removed    TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PgStore keeps records in PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PgStore)(nil)

// NewPgStore connects to databaseURL and creates the table if needed.
func NewPgStore(ctx context.Context, databaseURL string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate audit table: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Close() { s.pool.Close() }

func (s *PgStore) Insert(ctx context.Context, rec Record) error {
	removed := rec.Removed
	if removed == nil {
		removed = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (id, kind, subject, target, regions, removed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, string(rec.Kind), rec.Subject, rec.Target, rec.Regions, removed, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, kind, subject, target, regions, removed, created_at FROM audit_records`

func (s *PgStore) Get(ctx context.Context, id string) (Record, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return Record{}, fmt.Errorf("get audit record: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get audit record: %w", err)
	}
	return rec, nil
}

func (s *PgStore) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return recs, nil
}

func scanRecord(row pgx.CollectableRow) (Record, error) {
	var rec Record
	var kind string
	err := row.Scan(&rec.ID, &kind, &rec.Subject, &rec.Target, &rec.Regions, &rec.Removed, &rec.CreatedAt)
	rec.Kind = Kind(kind)
	return rec, err
}

// MemoryStore keeps the most recent records in memory. It is used when no
// database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	max     int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max}
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if m.max > 0 && len(m.records) > m.max {
		m.records = m.records[len(m.records)-m.max:]
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

// List returns up to limit records, newest first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, min(limit, len(m.records)))
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func newRecord(kind Kind, subject, target string) Record {
	return Record{
		ID:        typeid.NewAuditID(),
		Kind:      kind,
		Subject:   subject,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
}
