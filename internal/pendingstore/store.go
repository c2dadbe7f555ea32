package pendingstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/timing"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; users must clear the pending database after a bump.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different
// schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Record is one pending recording: everything the commit phase needs,
// payload included. One live entry per capture.
type Record struct {
	ID            string         `json:"id"`
	Payload       []byte         `json:"-"`
	MimeType      string         `json:"mimeType"`
	PerspectiveID string         `json:"perspectiveId"`
	Words         []string       `json:"words"`
	Timings       timing.Entries `json:"timings"`
	Duration      *float64       `json:"duration,omitempty"`
	ReturnPath    string         `json:"returnPath"`
	PlaybackMode  string         `json:"playbackMode"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Store persists pending recordings in SQLite with an in-memory cache in
// front. Reads prefer the cache; a cold process falls through to the
// durable store.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	cache map[string]*Record
}

// Open initializes or connects to the pending database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.PendingDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, cache: make(map[string]*Record)}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores the record durably, assigns it an opaque id, and caches it.
func (s *Store) Create(ctx context.Context, rec *Record) (string, error) {
	if rec == nil {
		return "", errors.New("record is nil")
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	wordsJSON, err := json.Marshal(rec.Words)
	if err != nil {
		return "", fmt.Errorf("marshal words: %w", err)
	}
	timingsJSON, err := json.Marshal(rec.Timings)
	if err != nil {
		return "", fmt.Errorf("marshal timings: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO pending_recordings (
            id, payload, mime_type, perspective_id, words_json, timings_json,
            duration, return_path, playback_mode, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Payload,
		rec.MimeType,
		rec.PerspectiveID,
		string(wordsJSON),
		string(timingsJSON),
		nullableFloat(rec.Duration),
		nullableString(rec.ReturnPath),
		nullableString(rec.PlaybackMode),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert pending recording: %w", err)
	}

	s.mu.Lock()
	s.cache[rec.ID] = rec
	s.mu.Unlock()
	return rec.ID, nil
}

// Get returns the record, checking the in-memory cache before the durable
// store. A missing id yields faults.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	if rec, ok := s.cache[id]; ok {
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM pending_recordings WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Wrap(faults.ErrNotFound, "pending", "get", "no pending recording "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending recording: %w", err)
	}

	s.mu.Lock()
	s.cache[id] = rec
	s.mu.Unlock()
	return rec, nil
}

// Clear removes the record from both the cache and the durable store.
func (s *Store) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_recordings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending recording: %w", err)
	}
	return nil
}

// List returns all pending recordings ordered by creation time, payloads
// included.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM pending_recordings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending recordings: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (clear or delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

const recordColumns = "id, payload, mime_type, perspective_id, words_json, timings_json, duration, return_path, playback_mode, created_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec          Record
		wordsJSON    string
		timingsJSON  string
		duration     sql.NullFloat64
		returnPath   sql.NullString
		playbackMode sql.NullString
		createdRaw   string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Payload,
		&rec.MimeType,
		&rec.PerspectiveID,
		&wordsJSON,
		&timingsJSON,
		&duration,
		&returnPath,
		&playbackMode,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(wordsJSON), &rec.Words); err != nil {
		return nil, fmt.Errorf("unmarshal words: %w", err)
	}
	if err := json.Unmarshal([]byte(timingsJSON), &rec.Timings); err != nil {
		return nil, fmt.Errorf("unmarshal timings: %w", err)
	}
	if duration.Valid {
		d := duration.Float64
		rec.Duration = &d
	}
	rec.ReturnPath = returnPath.String
	rec.PlaybackMode = playbackMode.String
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		rec.CreatedAt = created
	}
	return &rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}
