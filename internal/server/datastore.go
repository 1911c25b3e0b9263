package server

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/sqlitemigrate"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

//go:embed migrations/*.sql
var migrations embed.FS

// StoredRecord is a record as persisted by the collector.
type StoredRecord struct {
	ID         int64            `json:"id"`
	Path       string           `json:"path"`
	UID        string           `json:"uid,omitempty"`
	Record     telemetry.Record `json:"record"`
	ReceivedAt time.Time        `json:"received_at"`
}

// StoredSummary is a teardown summary as persisted by the collector.
type StoredSummary struct {
	ID         int64             `json:"id"`
	Summary    telemetry.Summary `json:"summary"`
	ReceivedAt time.Time         `json:"received_at"`
}

// RecordQuery filters ListRecords. Zero fields match everything.
type RecordQuery struct {
	Category  telemetry.Category
	SessionID string
	Limit     int
}

// Datastore is the collector's append-only SQLite store.
type Datastore struct {
	db *sql.DB
}

// OpenDatastore opens the SQLite file at path and applies migrations.
func OpenDatastore(ctx context.Context, path string) (*Datastore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("collector database path is required")
	}
	db, err := sql.Open("sqlite", sqlitemigrate.DSN(filepath.Clean(path)))
	if err != nil {
		return nil, fmt.Errorf("open collector db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping collector db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Datastore{db: db}, nil
}

// Close closes the database handle.
func (d *Datastore) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// InsertRecord appends rec under path and returns its row id.
func (d *Datastore) InsertRecord(ctx context.Context, path sink.Path, uid string, rec telemetry.Record, receivedAt time.Time) (int64, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", telemetry.ErrMalformed, err)
	}
	res, err := d.db.ExecContext(ctx, `
INSERT INTO records (namespace, version, category, session_id, uid, payload, created_at, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		path.Namespace, path.Version, string(path.Category), rec.SessionID, uid,
		string(payload), rec.CreatedAt.UTC().UnixMilli(), receivedAt.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

// ListRecords returns stored records newest first.
func (d *Datastore) ListRecords(ctx context.Context, q RecordQuery) ([]StoredRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(q.Category))
	}
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}

	query := `SELECT id, namespace, version, category, session_id, uid, payload, created_at, received_at FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var (
			sr                  StoredRecord
			ns, ver, cat, data  string
			createdMs, receivMs int64
		)
		if err := rows.Scan(&sr.ID, &ns, &ver, &cat, &sr.Record.SessionID, &sr.UID, &data, &createdMs, &receivMs); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &sr.Record.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of record %d: %w", sr.ID, err)
		}
		path := sink.Path{Namespace: ns, Version: ver, Category: telemetry.Category(cat)}
		sr.Path = path.String()
		sr.Record.Category = path.Category
		sr.Record.CreatedAt = time.UnixMilli(createdMs).UTC()
		sr.ReceivedAt = time.UnixMilli(receivMs).UTC()
		out = append(out, sr)
	}
	return out, rows.Err()
}

// CountByCategory returns how many records each category holds.
func (d *Datastore) CountByCategory(ctx context.Context) (map[telemetry.Category]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT category, COUNT(1) FROM records GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	out := make(map[telemetry.Category]int)
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[telemetry.Category(cat)] = n
	}
	return out, rows.Err()
}

// InsertSummary appends a teardown summary.
func (d *Datastore) InsertSummary(ctx context.Context, s telemetry.Summary, receivedAt time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
INSERT INTO summaries (session_id, version, duration_ms, completion_rate, errors, received_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.Version, s.Duration, s.CompletionRate, s.Errors, receivedAt.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert summary: %w", err)
	}
	return res.LastInsertId()
}

// ListSummaries returns summaries newest first.
func (d *Datastore) ListSummaries(ctx context.Context, limit int) ([]StoredSummary, error) {
	query := `SELECT id, session_id, version, duration_ms, completion_rate, errors, received_at FROM summaries ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []StoredSummary
	for rows.Next() {
		var (
			ss       StoredSummary
			receivMs int64
		)
		if err := rows.Scan(&ss.ID, &ss.Summary.SessionID, &ss.Summary.Version, &ss.Summary.Duration,
			&ss.Summary.CompletionRate, &ss.Summary.Errors, &receivMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		ss.ReceivedAt = time.UnixMilli(receivMs).UTC()
		out = append(out, ss)
	}
	return out, rows.Err()
}

// CreateIdentity stores an anonymous identity.
func (d *Datastore) CreateIdentity(ctx context.Context, uid, token string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO identities (uid, token, created_at) VALUES (?, ?, ?)`,
		uid, token, at.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// LookupToken returns the uid a token was issued to, or "" if unknown.
func (d *Datastore) LookupToken(ctx context.Context, token string) (string, error) {
	var uid string
	err := d.db.QueryRowContext(ctx, `SELECT uid FROM identities WHERE token = ?`, token).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return uid, nil
}
