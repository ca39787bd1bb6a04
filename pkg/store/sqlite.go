// Package store persists scan results in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"github.com/menta2k/nailscan/internal/utils"
)

// ErrNotFound is returned when no scan matches the ID.
var ErrNotFound = errors.New("scan not found")

// Record is one persisted scan. Payload holds the full JSON result.
type Record struct {
	ID          string
	CreatedAt   time.Time
	Status      string
	QualityPass bool
	Hb          *float64
	Stage       string
	Uncertainty float64
	Payload     json.RawMessage
}

// SQLite stores scan records
type SQLite struct {
	db *sql.DB
}

// Open connects to the database at dsn and creates the schema. The parent
// directory of a file path is created when missing.
func Open(dsn string) (*SQLite, error) {
	path := dsn
	if idx := strings.Index(dsn, "?"); idx != -1 {
		path = dsn[:idx]
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, ":memory:") {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	if !strings.Contains(dsn, "_busy_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&_busy_timeout=5000"
		} else {
			dsn += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening SQLite: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func createTables(db *sql.DB) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS scans (
        id TEXT PRIMARY KEY,
        created_at TEXT NOT NULL,
        status TEXT NOT NULL,
        quality_pass INTEGER NOT NULL DEFAULT 0,
        hb REAL,
        anemia_stage TEXT,
        uncertainty REAL NOT NULL DEFAULT 0,
        payload TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans(created_at);
    `
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("error creating scans table: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save inserts or replaces a record.
func (s *SQLite) Save(ctx context.Context, r Record) error {
	const q = `
insert or replace into scans (id, created_at, status, quality_pass, hb, anemia_stage, uncertainty, payload)
values (?, ?, ?, ?, ?, ?, ?, ?)`
	var hb sql.NullFloat64
	if r.Hb != nil {
		hb = sql.NullFloat64{Float64: *r.Hb, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q,
		r.ID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.Status,
		r.QualityPass,
		hb,
		r.Stage,
		r.Uncertainty,
		string(r.Payload),
	)
	if err != nil {
		return fmt.Errorf("error saving scan %s: %w", r.ID, err)
	}
	return nil
}

// Get loads a record by ID.
func (s *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	const q = `
select id, created_at, status, quality_pass, hb, coalesce(anemia_stage, ''), uncertainty, payload
from scans where id = ?`
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Recent returns up to limit records, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Record, error) {
	const q = `
select id, created_at, status, quality_pass, hb, coalesce(anemia_stage, ''), uncertainty, payload
from scans order by created_at desc limit ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing scans: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r       Record
		created string
		hb      sql.NullFloat64
		payload string
	)
	if err := row.Scan(&r.ID, &created, &r.Status, &r.QualityPass, &hb, &r.Stage, &r.Uncertainty, &payload); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp on scan %s: %w", r.ID, err)
	}
	r.CreatedAt = ts
	if hb.Valid {
		v := hb.Float64
		r.Hb = &v
	}
	r.Payload = json.RawMessage(payload)
	return &r, nil
}
