package persistence

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/logging"
	"recite/internal/timing"
)

type fakeProber struct {
	existing map[string]bool
	probed   []string
}

func (p *fakeProber) Exists(_ context.Context, ref string) bool {
	p.probed = append(p.probed, ref)
	return p.existing[ref]
}

func openTestStore(t *testing.T, prober Prober) *Store {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Paths.StateDir = dir
	cfg.Paths.LogDir = dir
	cfg.Paths.StorageDir = dir

	store, err := Open(&cfg, prober, logging.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func marks(starts ...float64) timing.Entries {
	out := make(timing.Entries, len(starts))
	for i, start := range starts {
		out[i] = &timing.Entry{Start: start}
	}
	return out
}

func TestSaveUnknownPerspective(t *testing.T) {
	store := openTestStore(t, &fakeProber{})
	_, err := store.Save(context.Background(), SaveRequest{PerspectiveID: "ghost"})
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestSavePlainScopeRoundTrip(t *testing.T) {
	store := openTestStore(t, &fakeProber{existing: map[string]bool{"objects/a.wav": true}})
	ctx := context.Background()
	if err := store.CreatePerspective(ctx, "p1", "readalong", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := store.Save(ctx, SaveRequest{
		PerspectiveID: "p1",
		Timings:       marks(0.5, 1.0, 2.0),
		Audio:         AudioSet("objects/a.wav"),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if result.AudioSrc != "objects/a.wav" {
		t.Fatalf("audio src = %q", result.AudioSrc)
	}
	// No duration: bounds come from the timing extent.
	if result.StartTime != 0.5 || result.EndTime != 2.2 {
		t.Fatalf("bounds = [%v, %v], want [0.5, 2.2]", result.StartTime, result.EndTime)
	}

	got, err := store.Get(ctx, "p1", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Timings) != 3 || got.Timings[0].Start != 0.5 {
		t.Fatalf("timings not persisted: %+v", got.Timings)
	}
}

func TestExplicitDurationBounds(t *testing.T) {
	store := openTestStore(t, &fakeProber{})
	ctx := context.Background()
	if err := store.CreatePerspective(ctx, "p1", "readalong", ""); err != nil {
		t.Fatal(err)
	}

	duration := 3.0
	result, err := store.Save(ctx, SaveRequest{
		PerspectiveID: "p1",
		Timings:       marks(0.5, 4.0),
		Duration:      &duration,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	// Bounds = [0, max(duration, max timing end)]; the last mark ends at
	// 4.0 + default duration.
	if result.StartTime != 0 {
		t.Fatalf("start = %v, want 0", result.StartTime)
	}
	if result.EndTime != 4.2 {
		t.Fatalf("end = %v, want 4.2", result.EndTime)
	}
}

func TestEmptyTimingsLeaveBoundsUnchanged(t *testing.T) {
	store := openTestStore(t, &fakeProber{})
	ctx := context.Background()
	if err := store.CreatePerspective(ctx, "p1", "readalong", ""); err != nil {
		t.Fatal(err)
	}

	duration := 5.0
	if _, err := store.Save(ctx, SaveRequest{
		PerspectiveID: "p1",
		Timings:       marks(1.0),
		Duration:      &duration,
	}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	result, err := store.Save(ctx, SaveRequest{PerspectiveID: "p1"})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if result.StartTime != 0 || result.EndTime != 5.0 {
		t.Fatalf("bounds must stay [0, 5], got [%v, %v]", result.StartTime, result.EndTime)
	}
}

func TestDanglingAudioReferenceRejected(t *testing.T) {
	prober := &fakeProber{}
	store := openTestStore(t, prober)
	ctx := context.Background()
	if err := store.CreatePerspective(ctx, "p1", "readalong", ""); err != nil {
		t.Fatal(err)
	}

	_, err := store.Save(ctx, SaveRequest{
		PerspectiveID: "p1",
		Timings:       marks(0.1),
		Audio:         AudioSet("objects/missing.wav"),
	})
	if !errors.Is(err, faults.ErrPersistAudioRef) {
		t.Fatalf("expected invalid-reference error, got %v", err)
	}
	// Nothing may be persisted after a rejection.
	got, err := store.Get(ctx, "p1", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Timings) != 0 {
		t.Fatal("rejected save must not persist timings")
	}
}

func TestRestrictedScopeRequiresToken(t *testing.T) {
	store := openTestStore(t, &fakeProber{})
	ctx := context.Background()
	if err := store.CreatePerspective(ctx, "p1", "private", "hunter2"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Save(ctx, SaveRequest{PerspectiveID: "p1", Timings: marks(0.1)}); !errors.Is(err, faults.ErrPersistUnauthorized) {
		t.Fatalf("expected unauthorized without token, got %v", err)
	}
	if _, err := store.Save(ctx, SaveRequest{PerspectiveID: "p1", Timings: marks(0.1), Token: "wrong"}); !errors.Is(err, faults.ErrPersistUnauthorized) {
		t.Fatalf("expected unauthorized with bad token, got %v", err)
	}
	if _, err := store.Save(ctx, SaveRequest{PerspectiveID: "p1", Timings: marks(0.1), Token: "hunter2"}); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
}

func TestTokenResolverConsulted(t *testing.T) {
	store := openTestStore(t, &fakeProber{})
	ctx := context.Background()
	if err := store.CreatePerspective(ctx, "p1", "private", "hunter2"); err != nil {
		t.Fatal(err)
	}

	resolved := false
	_, err := store.Save(ctx, SaveRequest{
		PerspectiveID: "p1",
		Timings:       marks(0.1),
		TokenResolver: func(id string) (string, error) {
			resolved = true
			return "hunter2", nil
		},
	})
	if err != nil {
		t.Fatalf("save with resolver: %v", err)
	}
	if !resolved {
		t.Fatal("resolver never consulted")
	}
}

func TestRestrictedRowsEncryptedAtRest(t *testing.T) {
	store := openTestStore(t, &fakeProber{existing: map[string]bool{"objects/s.wav": true}})
	ctx := context.Background()
	if err := store.CreatePerspective(ctx, "p1", "private", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, SaveRequest{
		PerspectiveID: "p1",
		Timings:       marks(0.25),
		Audio:         AudioSet("objects/s.wav"),
		Token:         "hunter2",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var storedTimings, storedAudio sql.NullString
	err := store.db.QueryRow(`SELECT timings, audio_src FROM perspectives WHERE id = 'p1'`).
		Scan(&storedTimings, &storedAudio)
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	for _, stored := range []string{storedTimings.String, storedAudio.String} {
		if stored == "" {
			t.Fatal("restricted columns must not be empty")
		}
		for _, leak := range []string{"0.25", "objects/s.wav", "start"} {
			if containsSub(stored, leak) {
				t.Fatalf("plaintext %q leaked into stored column", leak)
			}
		}
	}

	got, err := store.Get(ctx, "p1", "hunter2")
	if err != nil {
		t.Fatalf("get with token: %v", err)
	}
	if got.AudioSrc != "objects/s.wav" || len(got.Timings) != 1 || got.Timings[0].Start != 0.25 {
		t.Fatalf("decryption round trip broken: %+v", got)
	}
}

func containsSub(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestHTTPProberHeadThenRangedGet(t *testing.T) {
	headCalls, getCalls := 0, 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			headCalls++
			http.Error(w, "head disallowed", http.StatusMethodNotAllowed)
		case http.MethodGet:
			getCalls++
			if r.Header.Get("Range") != "bytes=0-0" {
				t.Errorf("expected one-byte range, got %q", r.Header.Get("Range"))
			}
			w.WriteHeader(http.StatusPartialContent)
		}
	}))
	defer server.Close()

	prober := NewHTTPProber(server.URL, 0, logging.NewNop())
	if !prober.Exists(context.Background(), "objects/x.wav") {
		t.Fatal("ranged GET fallback must succeed")
	}
	if headCalls != 1 || getCalls != 1 {
		t.Fatalf("expected HEAD then GET, got %d/%d", headCalls, getCalls)
	}
}

func TestHTTPProberNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	prober := NewHTTPProber(server.URL, 0, logging.NewNop())
	if prober.Exists(context.Background(), "objects/nope.wav") {
		t.Fatal("404 must report missing without a GET retry")
	}
}
