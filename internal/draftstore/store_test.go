package draftstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recite/internal/logging"
	"recite/internal/timing"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	primary := filepath.Join(dir, "drafts.json")
	fallback := filepath.Join(dir, "drafts-fallback.json")
	store := New(primary, fallback, 10*time.Millisecond, logging.NewNop())
	t.Cleanup(store.Close)
	return store, primary, fallback
}

func entries(starts ...float64) timing.Entries {
	out := make(timing.Entries, len(starts))
	for i, start := range starts {
		out[i] = &timing.Entry{Start: start}
	}
	return out
}

func TestSaveThenLoadBeforeFlush(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.Save("readalong", "p1", entries(0.1, 0.5))

	// The pending write has not hit disk yet but must still be readable.
	got, ok := store.Load("readalong", "p1")
	if !ok || len(got) != 2 {
		t.Fatalf("pending draft not readable: ok=%t len=%d", ok, len(got))
	}
}

func TestFlushWritesPrimary(t *testing.T) {
	store, primary, _ := newTestStore(t)
	store.Save("readalong", "p1", entries(0.1))
	store.Flush()

	data, err := os.ReadFile(primary)
	if err != nil {
		t.Fatalf("primary not written: %v", err)
	}
	drafts := make(map[string]Draft)
	if err := json.Unmarshal(data, &drafts); err != nil {
		t.Fatalf("parse primary: %v", err)
	}
	if _, ok := drafts["readalong/p1"]; !ok {
		t.Fatalf("draft key missing, have %v", drafts)
	}
}

func TestDebounceCollapsesWrites(t *testing.T) {
	store, primary, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		store.Save("readalong", "p1", entries(float64(i)))
	}
	time.Sleep(50 * time.Millisecond)

	data, err := os.ReadFile(primary)
	if err != nil {
		t.Fatalf("debounced write never landed: %v", err)
	}
	drafts := make(map[string]Draft)
	if err := json.Unmarshal(data, &drafts); err != nil {
		t.Fatalf("parse primary: %v", err)
	}
	draft := drafts["readalong/p1"]
	if len(draft.Timings) != 1 || draft.Timings[0].Start != 4 {
		t.Fatalf("last save must win: %+v", draft.Timings)
	}
}

func TestFallbackUsedWhenPrimaryUnwritable(t *testing.T) {
	dir := t.TempDir()
	// A directory at the primary path makes every primary write fail.
	primary := filepath.Join(dir, "blocked")
	if err := os.MkdirAll(primary, 0o755); err != nil {
		t.Fatal(err)
	}
	fallback := filepath.Join(dir, "fallback.json")
	store := New(primary, fallback, 10*time.Millisecond, logging.NewNop())
	defer store.Close()

	store.Save("readalong", "p1", entries(0.2))
	store.Flush()

	if _, err := os.Stat(fallback); err != nil {
		t.Fatalf("fallback not written: %v", err)
	}
	got, ok := store.Load("readalong", "p1")
	if !ok || got[0].Start != 0.2 {
		t.Fatalf("fallback draft unreadable: ok=%t", ok)
	}
}

func TestSuccessfulPrimaryWriteClearsStaleFallback(t *testing.T) {
	store, _, fallback := newTestStore(t)

	stale := map[string]Draft{
		"readalong/p1": {Scope: "readalong", PerspectiveID: "p1", Timings: entries(9)},
	}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(fallback, data, 0o644); err != nil {
		t.Fatal(err)
	}

	store.Save("readalong", "p1", entries(0.3))
	store.Flush()

	remaining, err := newDraftFile(fallback).read()
	if err != nil {
		t.Fatalf("read fallback: %v", err)
	}
	if _, ok := remaining["readalong/p1"]; ok {
		t.Fatal("stale fallback copy must be cleared after a primary write")
	}
}

func TestLoadMigratesFallbackOnlyDraft(t *testing.T) {
	store, primary, fallback := newTestStore(t)

	orphan := map[string]Draft{
		"readalong/p2": {Scope: "readalong", PerspectiveID: "p2", Timings: entries(1.5)},
	}
	data, _ := json.Marshal(orphan)
	if err := os.WriteFile(fallback, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok := store.Load("readalong", "p2")
	if !ok || got[0].Start != 1.5 {
		t.Fatalf("fallback draft not loaded: ok=%t", ok)
	}

	migrated, err := newDraftFile(primary).read()
	if err != nil {
		t.Fatalf("read primary: %v", err)
	}
	if _, ok := migrated["readalong/p2"]; !ok {
		t.Fatal("draft must migrate into primary on first read")
	}
	remaining, err := newDraftFile(fallback).read()
	if err != nil {
		t.Fatalf("read fallback: %v", err)
	}
	if _, ok := remaining["readalong/p2"]; ok {
		t.Fatal("migrated draft must leave the fallback")
	}
}

func TestLegacyArrayFormatAccepted(t *testing.T) {
	store, primary, _ := newTestStore(t)

	legacy := []Draft{{Scope: "readalong", PerspectiveID: "p3", Timings: entries(2.0)}}
	data, _ := json.Marshal(legacy)
	if err := os.WriteFile(primary, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok := store.Load("readalong", "p3")
	if !ok || got[0].Start != 2.0 {
		t.Fatalf("legacy draft not loaded: ok=%t", ok)
	}
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.Save("readalong", "p1", entries(0.1))
	store.Flush()
	store.Delete("readalong", "p1")

	if _, ok := store.Load("readalong", "p1"); ok {
		t.Fatal("deleted draft still loadable")
	}
}

func TestFallbackEviction(t *testing.T) {
	drafts := make(map[string]Draft)
	base := time.Now()
	for i := 0; i < maxFallbackEntries+3; i++ {
		key := draftKey("s", string(rune('a'+i)))
		drafts[key] = Draft{UpdatedAt: base.Add(time.Duration(i) * time.Second)}
	}
	trimFallback(drafts)
	if len(drafts) != maxFallbackEntries {
		t.Fatalf("expected %d entries after trim, got %d", maxFallbackEntries, len(drafts))
	}
	if _, ok := drafts[draftKey("s", "a")]; ok {
		t.Fatal("oldest entry must be evicted first")
	}
}
