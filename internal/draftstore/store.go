package draftstore

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"recite/internal/logging"
	"recite/internal/timing"
)

// maxFallbackEntries bounds the fallback file. It only has to bridge the
// gap until the primary becomes writable again, so oldest entries are
// evicted first.
const maxFallbackEntries = 8

// Draft is one autosaved timing edit.
type Draft struct {
	Scope         string         `json:"scope"`
	PerspectiveID string         `json:"perspectiveId"`
	Timings       timing.Entries `json:"timings"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func draftKey(scope, perspectiveID string) string {
	return scope + "/" + perspectiveID
}

// Store debounces draft writes into a primary file with a fallback behind
// it. Reads prefer the primary; the first read of a fallback-only draft
// migrates it into the primary and drops the fallback entry.
type Store struct {
	primary  *draftFile
	fallback *draftFile
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]Draft
	timer   *time.Timer
	closed  bool
}

// New builds a store writing to primaryPath with fallbackPath behind it.
func New(primaryPath, fallbackPath string, debounce time.Duration, logger *slog.Logger) *Store {
	if debounce <= 0 {
		debounce = 120 * time.Millisecond
	}
	return &Store{
		primary:  newDraftFile(primaryPath),
		fallback: newDraftFile(fallbackPath),
		logger:   logging.NewComponentLogger(logger, "drafts"),
		debounce: debounce,
		pending:  make(map[string]Draft),
	}
}

// Save queues a draft write. Rapid successive saves for any key collapse
// into one write after the debounce interval.
func (s *Store) Save(scope, perspectiveID string, timings timing.Entries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[draftKey(scope, perspectiveID)] = Draft{
		Scope:         scope,
		PerspectiveID: perspectiveID,
		Timings:       timings,
		UpdatedAt:     time.Now().UTC(),
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushDebounced)
	} else {
		s.timer.Reset(s.debounce)
	}
}

// Load returns the draft for the key, preferring the primary store. A draft
// found only in the fallback is migrated into the primary and removed from
// the fallback.
func (s *Store) Load(scope, perspectiveID string) (timing.Entries, bool) {
	key := draftKey(scope, perspectiveID)

	s.mu.Lock()
	if draft, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return draft.Timings, true
	}
	s.mu.Unlock()

	drafts, err := s.primary.read()
	if err != nil {
		s.logger.Warn("primary draft read failed", logging.Error(err))
	} else if draft, ok := drafts[key]; ok {
		return draft.Timings, true
	}

	fallbackDrafts, err := s.fallback.read()
	if err != nil || len(fallbackDrafts) == 0 {
		return nil, false
	}
	draft, ok := fallbackDrafts[key]
	if !ok {
		return nil, false
	}

	// Migrate: fallback-only drafts move into the primary on first read.
	if drafts == nil {
		drafts = make(map[string]Draft)
	}
	drafts[key] = draft
	if err := s.primary.write(drafts); err != nil {
		s.logger.Warn("draft migration write failed", logging.Error(err))
		return draft.Timings, true
	}
	delete(fallbackDrafts, key)
	if err := s.fallback.write(fallbackDrafts); err != nil {
		s.logger.Warn("fallback cleanup failed", logging.Error(err))
	}
	return draft.Timings, true
}

// Delete removes the draft from both stores and any pending write.
func (s *Store) Delete(scope, perspectiveID string) {
	key := draftKey(scope, perspectiveID)

	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()

	for _, file := range []*draftFile{s.primary, s.fallback} {
		drafts, err := file.read()
		if err != nil || drafts == nil {
			continue
		}
		if _, ok := drafts[key]; !ok {
			continue
		}
		delete(drafts, key)
		if err := file.write(drafts); err != nil {
			s.logger.Warn("draft delete write failed", logging.Error(err))
		}
	}
}

// Flush writes any pending drafts synchronously. Call on teardown so a
// debounce window never swallows the last edit.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.pending
	s.pending = make(map[string]Draft)
	s.mu.Unlock()

	if len(pending) > 0 {
		s.write(pending)
	}
}

// Close flushes and stops accepting saves.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Flush()
}

func (s *Store) flushDebounced() {
	s.mu.Lock()
	s.timer = nil
	pending := s.pending
	s.pending = make(map[string]Draft)
	s.mu.Unlock()

	if len(pending) > 0 {
		s.write(pending)
	}
}

// write merges pending drafts into the primary; on failure the payload goes
// to the fallback instead. A successful primary write clears stale fallback
// copies of the same keys.
func (s *Store) write(pending map[string]Draft) {
	drafts, err := s.primary.read()
	if err != nil || drafts == nil {
		drafts = make(map[string]Draft)
	}
	for key, draft := range pending {
		drafts[key] = draft
	}

	if err := s.primary.write(drafts); err != nil {
		s.logger.Warn("primary draft write failed, using fallback", logging.Error(err))
		s.writeFallback(pending)
		return
	}
	s.clearFallback(pending)
}

func (s *Store) writeFallback(pending map[string]Draft) {
	drafts, err := s.fallback.read()
	if err != nil || drafts == nil {
		drafts = make(map[string]Draft)
	}
	for key, draft := range pending {
		drafts[key] = draft
	}
	trimFallback(drafts)
	if err := s.fallback.write(drafts); err != nil {
		s.logger.Error("fallback draft write failed, edit lost on exit", logging.Error(err))
	}
}

func (s *Store) clearFallback(pending map[string]Draft) {
	drafts, err := s.fallback.read()
	if err != nil || len(drafts) == 0 {
		return
	}
	changed := false
	for key := range pending {
		if _, ok := drafts[key]; ok {
			delete(drafts, key)
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := s.fallback.write(drafts); err != nil {
		s.logger.Warn("stale fallback cleanup failed", logging.Error(err))
	}
}

func trimFallback(drafts map[string]Draft) {
	if len(drafts) <= maxFallbackEntries {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(drafts))
	for key, draft := range drafts {
		entries = append(entries, aged{key, draft.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, entry := range entries[:len(drafts)-maxFallbackEntries] {
		delete(drafts, entry.key)
	}
}
