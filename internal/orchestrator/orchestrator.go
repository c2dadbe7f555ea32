package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"recite/internal/analysis"
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

// savedFlagTTL is how long the transient saved marker stays visible.
const savedFlagTTL = 1500 * time.Millisecond

// Status is the per-perspective lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusUploading Status = "uploading"
	StatusSaving    Status = "saving"
	StatusPaused    Status = "paused"
	StatusError     Status = "error"
)

// Recorder is the capture surface the orchestrator drives.
type Recorder interface {
	Start() error
	Stop(reason capture.StopReason)
	Recording() bool
}

// Persister saves timing/audio state, locally or over the wire.
type Persister interface {
	Save(ctx context.Context, req persistence.SaveRequest) (persistence.SaveResult, error)
}

// Uploader stores a payload and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, payload []byte) (uploader.Result, error)
}

// Deps are the collaborators the orchestrator composes.
type Deps struct {
	Coordinator *runtimestate.Coordinator
	Pending     *pendingstore.Store
	Drafts      *DraftAccess
	Uploader    Uploader
	Persister   Persister
	Analyzer    *analysis.Chain
	// OnCommitted observes every finished commit attempt, success or not.
	OnCommitted func(CommitResult, error)
}

// DraftAccess is the slice of the draft store the orchestrator needs.
type DraftAccess struct {
	Load   func(scope, perspectiveID string) (timing.Entries, bool)
	Delete func(scope, perspectiveID string)
}

// StartOptions carry the commit metadata captured at session start.
type StartOptions struct {
	ReturnPath   string
	PlaybackMode string
}

// CommitResult reports where a finished commit should send the performer.
type CommitResult struct {
	PendingID     string
	PerspectiveID string
	ReturnPath    string
	AudioRef      string
}

// Orchestrator owns the per-perspective state machine.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Deps

	recorder Recorder
	savedTTL time.Duration

	mu          sync.Mutex
	current     string
	words       []string
	opts        StartOptions
	statuses    map[string]Status
	savedTimers map[string]*time.Timer
}

// New builds an orchestrator. The recorder is attached separately because
// capture sessions are constructed around the orchestrator's own capture
// callback.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "orchestrator"),
		deps:        deps,
		savedTTL:    savedFlagTTL,
		statuses:    make(map[string]Status),
		savedTimers: make(map[string]*time.Timer),
	}
}

// SetRecorder attaches the capture surface. A nil recorder means capture is
// unavailable and Start is rejected.
func (o *Orchestrator) SetRecorder(rec Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorder = rec
}

// SetOnCommitted installs the commit observer after construction.
func (o *Orchestrator) SetOnCommitted(fn func(CommitResult, error)) {
	o.deps.OnCommitted = fn
}

// Status returns the lifecycle state for one perspective.
func (o *Orchestrator) Status(id string) Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if status, ok := o.statuses[id]; ok {
		return status
	}
	return StatusIdle
}

// Start begins a capture session for the perspective, snapshotting the word
// list the timings will index into. Saved drafts are applied before the
// first mark, but never over live timings.
func (o *Orchestrator) Start(id string, words []string, opts StartOptions) error {
	o.mu.Lock()
	if !o.cfg.Capture.Enabled {
		o.mu.Unlock()
		return faults.Wrap(faults.ErrCaptureUnsupported, "orchestrator", "start",
			"capture disabled in configuration", nil)
	}
	if o.recorder == nil {
		o.mu.Unlock()
		return faults.Wrap(faults.ErrCaptureUnsupported, "orchestrator", "start",
			"capture unavailable", nil)
	}
	if o.current != "" {
		current := o.current
		o.mu.Unlock()
		return faults.Wrap(faults.ErrCaptureFailed, "orchestrator", "start",
			"already recording "+current, nil)
	}
	o.current = id
	o.words = append([]string(nil), words...)
	o.opts = opts
	recorder := o.recorder
	o.mu.Unlock()

	if o.deps.Drafts != nil {
		if entries, ok := o.deps.Drafts.Load(o.cfg.Drafts.Scope, id); ok {
			o.deps.Coordinator.ApplyDraft(id, entries)
		}
	}
	// Live marking needs a slot per word before any mark lands.
	o.deps.Coordinator.ApplyDraft(id, make(timing.Entries, len(words)))
	o.deps.Coordinator.Select(id)
	o.setStatus(id, StatusRecording)

	if err := recorder.Start(); err != nil {
		o.mu.Lock()
		o.current = ""
		o.mu.Unlock()
		o.fail(id, "start capture", err)
		return err
	}
	return nil
}

// StopRecording requests a user stop; the finished take arrives through
// OnCapture.
func (o *Orchestrator) StopRecording() {
	o.mu.Lock()
	recorder := o.recorder
	o.mu.Unlock()
	if recorder != nil {
		recorder.Stop(capture.StopUser)
	}
}

// OnCapture receives the finished take. It seeds placeholder timings when
// none exist, makes the take locally playable right away, runs best-effort
// analysis, then queues and commits the take durably. It runs on the capture
// teardown goroutine.
func (o *Orchestrator) OnCapture(take capture.Take) {
	o.mu.Lock()
	id := o.current
	words := o.words
	opts := o.opts
	o.current = ""
	o.mu.Unlock()

	if id == "" {
		o.logger.Warn("take received with no active session, discarding",
			logging.Float64("duration", take.Duration))
		return
	}

	o.logger.Info("take captured",
		logging.String(logging.FieldPerspective, id),
		logging.Float64("duration", take.Duration),
		logging.String("reason", string(take.Reason)))

	// A take with no marks at all gets evenly spread placeholders so
	// playback alignment works immediately; any real mark suppresses seeding.
	if timing.Marked(o.timingsFor(id)) == 0 {
		o.deps.Coordinator.Apply(id, runtimestate.Fields{
			runtimestate.FieldTimings: timing.SeedPlaceholder(len(words), take.Duration),
		})
	}
	o.applyLocalOverride(id, take)
	o.analyze(id, take)

	duration := take.Duration
	pendingID, err := o.deps.Pending.Create(context.Background(), &pendingstore.Record{
		Payload:       take.Payload,
		MimeType:      take.MimeType,
		PerspectiveID: id,
		Words:         words,
		Timings:       o.timingsFor(id),
		Duration:      &duration,
		ReturnPath:    opts.ReturnPath,
		PlaybackMode:  opts.PlaybackMode,
	})
	if err != nil {
		o.fail(id, "queue pending recording", err)
		return
	}

	result, err := o.Commit(context.Background(), pendingID)
	if o.deps.OnCommitted != nil {
		o.deps.OnCommitted(result, err)
	}
}

// applyLocalOverride writes the take beside the state database and points
// playback at it so the performer can review before the commit lands.
func (o *Orchestrator) applyLocalOverride(id string, take capture.Take) {
	path := o.localTakePath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		o.logger.Warn("local take directory unavailable", logging.Error(err))
		return
	}
	if err := os.WriteFile(path, take.Payload, 0o644); err != nil {
		o.logger.Warn("local take write failed", logging.Error(err))
		return
	}
	o.deps.Coordinator.Apply(id, runtimestate.Fields{
		runtimestate.FieldLocalAudio: path,
	})
}

func (o *Orchestrator) analyze(id string, take capture.Take) {
	if o.deps.Analyzer == nil {
		return
	}
	result, err := o.deps.Analyzer.Analyze(context.Background(), take.Payload)
	if err != nil {
		o.logger.Warn("take analysis failed", logging.Error(err))
		return
	}
	o.deps.Coordinator.Apply(id, runtimestate.Fields{
		runtimestate.FieldAnalysis: result,
	})
}

// DeleteAudio removes the local override and analysis immediately and clears
// the persisted reference. Timing marks survive.
func (o *Orchestrator) DeleteAudio(ctx context.Context, id string) error {
	_ = os.Remove(o.localTakePath(id))
	o.deps.Coordinator.Apply(id, runtimestate.Fields{
		runtimestate.FieldLocalAudio: runtimestate.Deleted,
		runtimestate.FieldAnalysis:   runtimestate.Deleted,
		runtimestate.FieldAudioSrc:   runtimestate.Deleted,
	})

	_, err := o.deps.Persister.Save(ctx, persistence.SaveRequest{
		PerspectiveID: id,
		Timings:       o.timingsFor(id),
		Audio:         persistence.AudioClear(),
		Token:         o.cfg.Upload.Token,
	})
	if err != nil {
		o.fail(id, "clear persisted audio", err)
		return err
	}
	o.markSaved(id, "")
	return nil
}

// SaveTimingsOnly persists the current marks against the already-stored
// audio reference, failing fast when the perspective has none.
func (o *Orchestrator) SaveTimingsOnly(ctx context.Context, id string) error {
	if !o.hasRemoteAudio(id) {
		return faults.Wrap(faults.ErrPersistAudioRef, "orchestrator", "save-timings",
			"no stored audio reference for "+id, nil)
	}

	o.setStatus(id, StatusSaving)
	result, err := o.deps.Persister.Save(ctx, persistence.SaveRequest{
		PerspectiveID: id,
		Timings:       o.timingsFor(id),
		Audio:         persistence.AudioUnchanged(),
		Token:         o.cfg.Upload.Token,
	})
	if err != nil {
		o.fail(id, "persist timings", err)
		return err
	}
	o.markSaved(id, result.AudioSrc)
	return nil
}

func (o *Orchestrator) hasRemoteAudio(id string) bool {
	entry := o.deps.Coordinator.States()[id]
	if entry == nil {
		return false
	}
	src, ok := entry[runtimestate.FieldAudioSrc].(string)
	return ok && src != ""
}

func (o *Orchestrator) timingsFor(id string) timing.Entries {
	entry := o.deps.Coordinator.States()[id]
	if entry == nil {
		return nil
	}
	entries, _ := entry[runtimestate.FieldTimings].(timing.Entries)
	return entries
}

func (o *Orchestrator) localTakePath(id string) string {
	return filepath.Join(o.cfg.Paths.StateDir, "takes", id+".wav")
}

func (o *Orchestrator) setStatus(id string, status Status) {
	o.mu.Lock()
	o.statuses[id] = status
	o.mu.Unlock()
	patch := runtimestate.Fields{runtimestate.FieldStatus: string(status)}
	if status != StatusError {
		patch[runtimestate.FieldError] = runtimestate.Deleted
	}
	o.deps.Coordinator.Apply(id, patch)
}

// fail records the error state but leaves local playback and timings alone
// so nothing captured is lost.
func (o *Orchestrator) fail(id, operation string, err error) {
	o.logger.Error(operation+" failed",
		logging.String(logging.FieldPerspective, id),
		logging.Error(err))
	o.mu.Lock()
	o.statuses[id] = StatusError
	o.mu.Unlock()
	o.deps.Coordinator.Apply(id, runtimestate.Fields{
		runtimestate.FieldStatus: string(StatusError),
		runtimestate.FieldError:  fmt.Sprintf("%s: %v", operation, err),
	})
}

// markSaved flips the transient saved flag and schedules its auto-clear.
func (o *Orchestrator) markSaved(id, audioRef string) {
	patch := runtimestate.Fields{
		runtimestate.FieldStatus: string(StatusIdle),
		runtimestate.FieldError:  runtimestate.Deleted,
		runtimestate.FieldSaved:  true,
	}
	if audioRef != "" {
		patch[runtimestate.FieldAudioSrc] = audioRef
	}
	o.deps.Coordinator.Apply(id, patch)

	o.mu.Lock()
	o.statuses[id] = StatusIdle
	if timer := o.savedTimers[id]; timer != nil {
		timer.Stop()
	}
	o.savedTimers[id] = time.AfterFunc(o.savedTTL, func() {
		o.deps.Coordinator.Apply(id, runtimestate.Fields{
			runtimestate.FieldSaved: runtimestate.Deleted,
		})
	})
	o.mu.Unlock()
}
