// Package storage persists signals and the seen ledger in a single SQLite
// file. Signal rows are append-only: the only mutable column is the
// notified flag, so history stays auditable across classifier changes.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	url            TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	title          TEXT,
	body           TEXT,
	author         TEXT,
	created_at     TIMESTAMP,
	metadata_json  TEXT,
	category       TEXT,
	pain           INTEGER NOT NULL DEFAULT 0,
	urgency        INTEGER NOT NULL DEFAULT 0,
	commercial     INTEGER NOT NULL DEFAULT 0,
	proximity      INTEGER NOT NULL DEFAULT 0,
	fit            INTEGER NOT NULL DEFAULT 0,
	total          INTEGER NOT NULL DEFAULT 0,
	rationale      TEXT,
	hook           TEXT,
	processed_at   TIMESTAMP,
	notified       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS seen_urls (
	url        TEXT PRIMARY KEY,
	first_seen TIMESTAMP
);
`

// SQLiteStore implements the signal repository and the seen ledger on one
// database handle, so the two stay consistent under concurrent sources.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.SignalRepository = (*SQLiteStore)(nil)
var _ ports.SeenLedger = (*SQLiteStore)(nil)

// Open creates or opens the store at path and ensures the schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HasSeen reports whether the identifier is in the ledger.
func (s *SQLiteStore) HasSeen(ctx context.Context, externalID string) (bool, error) {
	query, args, err := sq.Select("1").From("seen_urls").Where(sq.Eq{"url": externalID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return true, nil
}

// MarkSeen records the identifier and returns false when it was already
// present. The insert-or-ignore makes the claim atomic per identifier.
func (s *SQLiteStore) MarkSeen(ctx context.Context, externalID string, at time.Time) (bool, error) {
	query, args, err := sq.Insert("seen_urls").
		Columns("url", "first_seen").
		Values(externalID, at.UTC()).
		Suffix("ON CONFLICT(url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// InsertIfAbsent writes the record unless its key exists; an existing key
// is a no-op returning false, never an update.
func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, rec domain.SignalRecord) (bool, error) {
	metadata, err := json.Marshal(rec.Signal.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	query, args, err := sq.Insert("signals").
		Columns("url", "source", "title", "body", "author", "created_at", "metadata_json",
			"category", "pain", "urgency", "commercial", "proximity", "fit", "total",
			"rationale", "hook", "processed_at", "notified").
		Values(rec.Signal.ExternalID, string(rec.Signal.Source), rec.Signal.Title,
			rec.Signal.BodyText, rec.Signal.Author, rec.Signal.CreatedAt.UTC(), string(metadata),
			string(rec.Category), rec.Scores.Pain, rec.Scores.Urgency, rec.Scores.Commercial,
			rec.Scores.Proximity, rec.Scores.Fit, rec.Scores.Total(),
			rec.Rationale, rec.Hook, rec.ProcessedAt.UTC(), boolToInt(rec.Notified)).
		Suffix("ON CONFLICT(url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert signal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Get returns the record for an identifier, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, externalID string) (*domain.SignalRecord, error) {
	query, args, err := recordSelect().Where(sq.Eq{"url": externalID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return rec, nil
}

// Unnotified lists records at or above minTotal that never reached the
// notifier, most urgent first. Used for manual resends.
func (s *SQLiteStore) Unnotified(ctx context.Context, minTotal int) ([]domain.SignalRecord, error) {
	query, args, err := recordSelect().
		Where(sq.Eq{"notified": 0}).
		Where(sq.GtOrEq{"total": minTotal}).
		OrderBy("total DESC", "processed_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unnotified: %w", err)
	}
	defer rows.Close()

	var records []domain.SignalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

// MarkNotified flips the delivery flag. Scores and category stay frozen.
func (s *SQLiteStore) MarkNotified(ctx context.Context, externalID string) error {
	query, args, err := sq.Update("signals").
		Set("notified", 1).
		Where(sq.Eq{"url": externalID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func recordSelect() sq.SelectBuilder {
	return sq.Select("url", "source", "title", "body", "author", "created_at",
		"metadata_json", "category", "pain", "urgency", "commercial", "proximity",
		"fit", "rationale", "hook", "processed_at", "notified").
		From("signals")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.SignalRecord, error) {
	var (
		rec      domain.SignalRecord
		source   string
		category string
		metadata string
		notified int
	)

	err := row.Scan(&rec.Signal.ExternalID, &source, &rec.Signal.Title,
		&rec.Signal.BodyText, &rec.Signal.Author, &rec.Signal.CreatedAt,
		&metadata, &category, &rec.Scores.Pain, &rec.Scores.Urgency,
		&rec.Scores.Commercial, &rec.Scores.Proximity, &rec.Scores.Fit,
		&rec.Rationale, &rec.Hook, &rec.ProcessedAt, &notified)
	if err != nil {
		return nil, err
	}

	rec.Signal.Source = domain.Source(source)
	rec.Category = domain.Category(category)
	rec.Tier = domain.TierFor(rec.Scores.Total())
	rec.Notified = notified != 0
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &rec.Signal.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
