package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"recite/internal/capture"
	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/logging"
	"recite/internal/persistence"
	"recite/internal/pendingstore"
	"recite/internal/runtimestate"
	"recite/internal/timing"
	"recite/internal/uploader"
)

type fakeRecorder struct {
	startErr  error
	started   int
	stops     []capture.StopReason
	recording bool
}

func (r *fakeRecorder) Start() error {
	r.started++
	if r.startErr != nil {
		return r.startErr
	}
	r.recording = true
	return nil
}

func (r *fakeRecorder) Stop(reason capture.StopReason) {
	r.stops = append(r.stops, reason)
	r.recording = false
}

func (r *fakeRecorder) Recording() bool { return r.recording }

type fakeUploader struct {
	mu     sync.Mutex
	err    error
	result uploader.Result
	calls  int
}

func (u *fakeUploader) Upload(_ context.Context, _, _ string, _ []byte) (uploader.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.err != nil {
		return uploader.Result{}, u.err
	}
	return u.result, nil
}

type fakePersister struct {
	mu       sync.Mutex
	err      error
	requests []persistence.SaveRequest
}

func (p *fakePersister) Save(_ context.Context, req persistence.SaveRequest) (persistence.SaveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return persistence.SaveResult{}, p.err
	}
	return persistence.SaveResult{Timings: req.Timings, AudioSrc: "objects/stored"}, nil
}

func (p *fakePersister) last(t *testing.T) persistence.SaveRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		t.Fatal("persister never called")
	}
	return p.requests[len(p.requests)-1]
}

type harness struct {
	orch      *Orchestrator
	coord     *runtimestate.Coordinator
	pending   *pendingstore.Store
	recorder  *fakeRecorder
	uploads   *fakeUploader
	persister *fakePersister
	deleted   []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Paths.StateDir = dir
	cfg.Paths.LogDir = dir
	cfg.Paths.StorageDir = dir
	cfg.Drafts.Scope = "readalong"

	pending, err := pendingstore.Open(&cfg)
	if err != nil {
		t.Fatalf("open pending store: %v", err)
	}
	t.Cleanup(func() { pending.Close() })

	h := &harness{
		coord:     runtimestate.New(logging.NewNop(), 0.01, runtimestate.Hooks{}),
		pending:   pending,
		recorder:  &fakeRecorder{},
		uploads:   &fakeUploader{result: uploader.Result{Key: "k1"}},
		persister: &fakePersister{},
	}
	h.orch = New(&cfg, logging.NewNop(), Deps{
		Coordinator: h.coord,
		Pending:     pending,
		Drafts: &DraftAccess{
			Load:   func(scope, id string) (timing.Entries, bool) { return nil, false },
			Delete: func(scope, id string) { h.deleted = append(h.deleted, scope+"/"+id) },
		},
		Uploader:  h.uploads,
		Persister: h.persister,
	})
	h.orch.savedTTL = 20 * time.Millisecond
	h.orch.SetRecorder(h.recorder)
	return h
}

func (h *harness) field(id, key string) any {
	return h.coord.States()[id][key]
}

func TestStartRejectsWithoutRecorder(t *testing.T) {
	h := newHarness(t)
	h.orch.SetRecorder(nil)
	err := h.orch.Start("p1", []string{"a"}, StartOptions{})
	if !errors.Is(err, faults.ErrCaptureUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestStartRejectsWhenCaptureDisabled(t *testing.T) {
	h := newHarness(t)
	h.orch.cfg.Capture.Enabled = false
	err := h.orch.Start("p1", []string{"a"}, StartOptions{})
	if !errors.Is(err, faults.ErrCaptureUnsupported) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("error must name the config gate, got %v", err)
	}
	if h.recorder.started != 0 {
		t.Fatal("recorder must not start while capture is disabled")
	}
}

func TestStartRejectsWhileRecording(t *testing.T) {
	h := newHarness(t)
	if err := h.orch.Start("p1", []string{"a"}, StartOptions{}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	err := h.orch.Start("p2", []string{"b"}, StartOptions{})
	if !errors.Is(err, faults.ErrCaptureFailed) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestStartAppliesSavedDraft(t *testing.T) {
	h := newHarness(t)
	draft := timing.Entries{{Start: 0.4}}
	h.orch.deps.Drafts.Load = func(scope, id string) (timing.Entries, bool) {
		if scope != "readalong" || id != "p1" {
			t.Fatalf("unexpected draft key %s/%s", scope, id)
		}
		return draft, true
	}
	if err := h.orch.Start("p1", []string{"a", "b"}, StartOptions{}); err != nil {
		t.Fatal(err)
	}
	entries, _ := h.field("p1", runtimestate.FieldTimings).(timing.Entries)
	if len(entries) != 1 || entries[0].Start != 0.4 {
		t.Fatalf("draft not applied: %+v", entries)
	}
}

func takeFixture() capture.Take {
	return capture.Take{
		Payload:  []byte("not-a-wav-payload"),
		MimeType: "audio/wav",
		Duration: 1.2,
		Reason:   capture.StopUser,
	}
}

func TestCaptureCommitHappyPath(t *testing.T) {
	h := newHarness(t)
	var committed CommitResult
	var commitErr error
	h.orch.deps.OnCommitted = func(result CommitResult, err error) {
		committed, commitErr = result, err
	}

	if err := h.orch.Start("p1", []string{"one", "two", "three"}, StartOptions{ReturnPath: "/read/p1"}); err != nil {
		t.Fatal(err)
	}
	h.orch.OnCapture(takeFixture())

	if commitErr != nil {
		t.Fatalf("commit: %v", commitErr)
	}
	if committed.ReturnPath != "/read/p1" {
		t.Fatalf("return path = %q", committed.ReturnPath)
	}
	if committed.AudioRef != "objects/k1" {
		t.Fatalf("audio ref = %q", committed.AudioRef)
	}

	// Placeholder timings cover every snapshotted word.
	entries, _ := h.field("p1", runtimestate.FieldTimings).(timing.Entries)
	if len(entries) != 3 {
		t.Fatalf("expected 3 seeded entries, got %d", len(entries))
	}

	// Local override points at a playable copy of the take.
	localPath, _ := h.field("p1", runtimestate.FieldLocalAudio).(string)
	if localPath == "" {
		t.Fatal("local audio override missing")
	}
	if data, err := os.ReadFile(localPath); err != nil || string(data) != "not-a-wav-payload" {
		t.Fatalf("local take unreadable: %v", err)
	}

	// Persisted with the uploaded reference; the garbage payload cannot be
	// transcoded so the original bytes go up unmodified.
	req := h.persister.last(t)
	if req.Audio != persistence.AudioSet("objects/k1") {
		t.Fatalf("audio directive = %+v", req.Audio)
	}
	if req.Duration == nil || *req.Duration != 1.2 {
		t.Fatalf("duration = %v", req.Duration)
	}

	if len(h.deleted) != 1 || h.deleted[0] != "readalong/p1" {
		t.Fatalf("drafts not cleared: %v", h.deleted)
	}
	if records, err := h.pending.List(context.Background()); err != nil || len(records) != 0 {
		t.Fatalf("pending queue not cleared: %v %v", records, err)
	}
	if got := h.orch.Status("p1"); got != StatusIdle {
		t.Fatalf("status = %s", got)
	}

	if saved, _ := h.field("p1", runtimestate.FieldSaved).(bool); !saved {
		t.Fatal("saved flag not set")
	}
	time.Sleep(100 * time.Millisecond)
	if _, present := h.coord.States()["p1"][runtimestate.FieldSaved]; present {
		t.Fatal("saved flag did not auto-clear")
	}
}

func TestCommitInterruptionPausesAndResumes(t *testing.T) {
	h := newHarness(t)
	h.uploads.err = context.Canceled

	if err := h.orch.Start("p1", []string{"a"}, StartOptions{}); err != nil {
		t.Fatal(err)
	}
	h.orch.OnCapture(takeFixture())

	if got := h.orch.Status("p1"); got != StatusPaused {
		t.Fatalf("status after interruption = %s", got)
	}
	records, err := h.pending.List(context.Background())
	if err != nil || len(records) != 1 {
		t.Fatalf("pending entry must survive interruption: %v %v", records, err)
	}

	// Resume restarts the whole phase from the stored record.
	h.uploads.mu.Lock()
	h.uploads.err = nil
	h.uploads.mu.Unlock()
	result, err := h.orch.Commit(context.Background(), records[0].ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.AudioRef != "objects/k1" {
		t.Fatalf("audio ref = %q", result.AudioRef)
	}
	if records, _ := h.pending.List(context.Background()); len(records) != 0 {
		t.Fatal("pending entry not cleared after resume")
	}
}

func TestCommitTerminalFailureKeepsLocalState(t *testing.T) {
	h := newHarness(t)
	h.uploads.err = errors.New("server exploded")

	if err := h.orch.Start("p1", []string{"a"}, StartOptions{}); err != nil {
		t.Fatal(err)
	}
	h.orch.OnCapture(takeFixture())

	if got := h.orch.Status("p1"); got != StatusError {
		t.Fatalf("status = %s", got)
	}
	if msg, _ := h.field("p1", runtimestate.FieldError).(string); msg == "" {
		t.Fatal("error message missing")
	}
	if local, _ := h.field("p1", runtimestate.FieldLocalAudio).(string); local == "" {
		t.Fatal("local playback lost on failure")
	}
	if records, _ := h.pending.List(context.Background()); len(records) != 1 {
		t.Fatal("pending entry must survive terminal failure for retry")
	}
}

func TestSaveTimingsOnlyFailsFastWithoutAudio(t *testing.T) {
	h := newHarness(t)
	err := h.orch.SaveTimingsOnly(context.Background(), "p1")
	if !errors.Is(err, faults.ErrPersistAudioRef) {
		t.Fatalf("expected fail-fast, got %v", err)
	}
	if len(h.persister.requests) != 0 {
		t.Fatal("persister must not be called without an audio reference")
	}
}

func TestSaveTimingsOnlyPersistsMarks(t *testing.T) {
	h := newHarness(t)
	h.coord.Apply("p1", runtimestate.Fields{
		runtimestate.FieldAudioSrc: "objects/existing",
		runtimestate.FieldTimings:  timing.Entries{{Start: 0.7}},
	})

	if err := h.orch.SaveTimingsOnly(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	req := h.persister.last(t)
	if req.Audio != persistence.AudioUnchanged() {
		t.Fatalf("audio directive = %+v", req.Audio)
	}
	if len(req.Timings) != 1 || req.Timings[0].Start != 0.7 {
		t.Fatalf("timings = %+v", req.Timings)
	}
}

func TestDeleteAudioClearsLocalAndRemoteKeepsMarks(t *testing.T) {
	h := newHarness(t)
	if err := h.orch.Start("p1", []string{"a", "b"}, StartOptions{}); err != nil {
		t.Fatal(err)
	}
	h.orch.OnCapture(takeFixture())

	marks := timing.Entries{{Start: 0.1}, {Start: 0.9}}
	h.coord.Apply("p1", runtimestate.Fields{runtimestate.FieldTimings: marks})

	if err := h.orch.DeleteAudio(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	entry := h.coord.States()["p1"]
	for _, field := range []string{runtimestate.FieldLocalAudio, runtimestate.FieldAnalysis, runtimestate.FieldAudioSrc} {
		if _, present := entry[field]; present {
			t.Fatalf("field %s not cleared", field)
		}
	}
	req := h.persister.last(t)
	if req.Audio != persistence.AudioClear() {
		t.Fatalf("audio directive = %+v", req.Audio)
	}
	if len(req.Timings) != 2 {
		t.Fatalf("marks must survive audio deletion: %+v", req.Timings)
	}
	entries, _ := entry[runtimestate.FieldTimings].(timing.Entries)
	if len(entries) != 2 {
		t.Fatalf("runtime marks lost: %+v", entries)
	}
}
