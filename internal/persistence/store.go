package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/logging"
	"recite/internal/timing"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different
// schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

type directiveKind int

const (
	audioUnchanged directiveKind = iota
	audioClear
	audioSet
)

// AudioDirective says what to do with the stored audio reference.
type AudioDirective struct {
	kind  directiveKind
	value string
}

// AudioUnchanged leaves the stored reference as is.
func AudioUnchanged() AudioDirective { return AudioDirective{} }

// AudioClear removes the stored reference.
func AudioClear() AudioDirective { return AudioDirective{kind: audioClear} }

// AudioSet replaces the stored reference. Non-empty references are probed
// for existence before anything is persisted.
func AudioSet(ref string) AudioDirective { return AudioDirective{kind: audioSet, value: ref} }

// SaveRequest carries one persistence call.
type SaveRequest struct {
	PerspectiveID string
	Timings       timing.Entries
	Audio         AudioDirective
	Duration      *float64
	// Token authorizes restricted scopes. TokenResolver is consulted when
	// Token is empty.
	Token         string
	TokenResolver func(perspectiveID string) (string, error)
}

// SaveResult reports what was actually persisted.
type SaveResult struct {
	Timings   timing.Entries `json:"timings"`
	AudioSrc  string         `json:"audio_src"`
	StartTime float64        `json:"start_time"`
	EndTime   float64        `json:"end_time"`
}

// Store persists perspectives in SQLite.
type Store struct {
	db     *sql.DB
	path   string
	prober Prober
	logger *slog.Logger
}

// Open initializes or connects to the perspective database.
func Open(cfg *config.Config, prober Prober, logger *slog.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.PerspectiveDBPath()
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

	store := &Store{
		db:     db,
		path:   dbPath,
		prober: prober,
		logger: logging.NewComponentLogger(logger, "persistence"),
	}
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

// CreatePerspective registers a perspective. A non-empty token marks the
// scope restricted; only the token's one-way hash is stored.
func (s *Store) CreatePerspective(ctx context.Context, id, scope, token string) error {
	restricted := 0
	var storedHash any
	if token != "" {
		restricted = 1
		storedHash = hashToken(token)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO perspectives (id, scope, restricted, token_hash, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		id, scope, restricted, storedHash,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert perspective: %w", err)
	}
	return nil
}

type row struct {
	id         string
	scope      string
	restricted bool
	tokenHash  string
	timings    sql.NullString
	audioSrc   sql.NullString
	startTime  sql.NullFloat64
	endTime    sql.NullFloat64
}

func (s *Store) lookup(ctx context.Context, id string) (*row, error) {
	var (
		r          row
		restricted int
		tokenHash  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scope, restricted, token_hash, timings, audio_src, start_time, end_time
         FROM perspectives WHERE id = ?`, id,
	).Scan(&r.id, &r.scope, &restricted, &tokenHash, &r.timings, &r.audioSrc, &r.startTime, &r.endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Wrap(faults.ErrNotFound, "persistence", "lookup", "no perspective "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup perspective: %w", err)
	}
	r.restricted = restricted != 0
	r.tokenHash = tokenHash.String
	return &r, nil
}

// Save validates, authorizes, and persists one timing/audio update,
// returning what was stored.
func (s *Store) Save(ctx context.Context, req SaveRequest) (SaveResult, error) {
	r, err := s.lookup(ctx, req.PerspectiveID)
	if err != nil {
		return SaveResult{}, err
	}

	token := req.Token
	if r.restricted {
		if token == "" && req.TokenResolver != nil {
			token, err = req.TokenResolver(req.PerspectiveID)
			if err != nil {
				return SaveResult{}, faults.Wrap(faults.ErrPersistUnauthorized, "persistence", "save",
					"token resolution failed", err)
			}
		}
		if token == "" || !tokenMatches(token, r.tokenHash) {
			return SaveResult{}, faults.Wrap(faults.ErrPersistUnauthorized, "persistence", "save",
				"missing or invalid token for "+req.PerspectiveID, nil)
		}
	}

	// Resolve the audio directive before anything is written: a dangling
	// reference must reject the whole request.
	audioSrc := decodeStoredRef(r, token)
	switch req.Audio.kind {
	case audioClear:
		audioSrc = ""
	case audioSet:
		if req.Audio.value != "" {
			if s.prober == nil || !s.prober.Exists(ctx, req.Audio.value) {
				return SaveResult{}, faults.Wrap(faults.ErrPersistAudioRef, "persistence", "save",
					"audio reference not retrievable: "+req.Audio.value, nil)
			}
		}
		audioSrc = req.Audio.value
	}

	start, end, hasBounds := s.resolveBounds(r, req)

	timingsJSON, err := json.Marshal(req.Timings)
	if err != nil {
		return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "save", "marshal timings", err)
	}

	storedTimings := string(timingsJSON)
	storedAudio := audioSrc
	if r.restricted {
		if storedTimings, err = seal(token, timingsJSON); err != nil {
			return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "save", "seal timings", err)
		}
		if storedAudio != "" {
			if storedAudio, err = seal(token, []byte(audioSrc)); err != nil {
				return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "save", "seal audio ref", err)
			}
		}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE perspectives
         SET timings = ?, audio_src = ?, start_time = ?, end_time = ?, updated_at = ?
         WHERE id = ?`,
		storedTimings,
		nullableString(storedAudio),
		nullableBound(start, hasBounds),
		nullableBound(end, hasBounds),
		time.Now().UTC().Format(time.RFC3339Nano),
		req.PerspectiveID,
	)
	if err != nil {
		return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "save", "update perspective", err)
	}

	s.logger.Info("perspective persisted",
		logging.String(logging.FieldPerspective, req.PerspectiveID),
		logging.Int("timings", len(req.Timings)),
		logging.Bool("restricted", r.restricted))

	return SaveResult{
		Timings:   req.Timings,
		AudioSrc:  audioSrc,
		StartTime: start,
		EndTime:   end,
	}, nil
}

// Get returns the stored state, decrypting restricted rows with the token.
func (s *Store) Get(ctx context.Context, id, token string) (SaveResult, error) {
	r, err := s.lookup(ctx, id)
	if err != nil {
		return SaveResult{}, err
	}
	if r.restricted && (token == "" || !tokenMatches(token, r.tokenHash)) {
		return SaveResult{}, faults.Wrap(faults.ErrPersistUnauthorized, "persistence", "get",
			"missing or invalid token for "+id, nil)
	}

	result := SaveResult{
		AudioSrc:  decodeStoredRef(r, token),
		StartTime: r.startTime.Float64,
		EndTime:   r.endTime.Float64,
	}
	if r.timings.Valid && r.timings.String != "" {
		raw := []byte(r.timings.String)
		if r.restricted {
			if raw, err = open(token, r.timings.String); err != nil {
				return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "get", "unseal timings", err)
			}
		}
		if err := json.Unmarshal(raw, &result.Timings); err != nil {
			return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "get", "unmarshal timings", err)
		}
	}
	return result, nil
}

// resolveBounds applies the bounds rules: explicit duration wins, else any
// timing extent, else the previously stored bounds stand.
func (s *Store) resolveBounds(r *row, req SaveRequest) (start, end float64, ok bool) {
	if req.Duration != nil {
		end := *req.Duration
		if maxEnd := timing.MaxEnd(req.Timings); maxEnd > end {
			end = maxEnd
		}
		return 0, end, true
	}
	if tStart, tEnd, marked := timing.Bounds(req.Timings); marked {
		return tStart, tEnd, true
	}
	if r.startTime.Valid || r.endTime.Valid {
		return r.startTime.Float64, r.endTime.Float64, true
	}
	return 0, 0, false
}

func decodeStoredRef(r *row, token string) string {
	if !r.audioSrc.Valid || r.audioSrc.String == "" {
		return ""
	}
	if !r.restricted {
		return r.audioSrc.String
	}
	plain, err := open(token, r.audioSrc.String)
	if err != nil {
		return ""
	}
	return string(plain)
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
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
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

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableBound(value float64, ok bool) any {
	if !ok {
		return nil
	}
	return value
}
