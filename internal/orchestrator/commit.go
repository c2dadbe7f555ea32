package orchestrator

import (
	"context"

	"recite/internal/analysis"
	"recite/internal/faults"
	"recite/internal/logging"
	"recite/internal/persistence"
	"recite/internal/pendingstore"
	"recite/internal/runtimestate"
	"recite/internal/timing"
)

// Commit runs the durable phase for one pending recording: transcode,
// upload, persist, then cleanup. It is idempotent across interruption: a
// canceled run leaves the pending entry in place with status paused, and a
// later call restarts the whole phase from the stored record.
func (o *Orchestrator) Commit(ctx context.Context, pendingID string) (CommitResult, error) {
	rec, err := o.deps.Pending.Get(ctx, pendingID)
	if err != nil {
		return CommitResult{PendingID: pendingID}, err
	}
	id := rec.PerspectiveID
	result := CommitResult{
		PendingID:     pendingID,
		PerspectiveID: id,
		ReturnPath:    rec.ReturnPath,
	}

	o.setStatus(id, StatusUploading)

	payload, mimeType := o.transcode(rec)

	uploaded, err := o.deps.Uploader.Upload(ctx, pendingID+".wav", mimeType, payload)
	if err != nil {
		return result, o.commitFailed(id, "upload take", err)
	}

	audioRef := uploaded.PublicURL
	if audioRef == "" {
		audioRef = "objects/" + uploaded.Key
	}
	result.AudioRef = audioRef

	o.setStatus(id, StatusSaving)
	saved, err := o.deps.Persister.Save(ctx, persistence.SaveRequest{
		PerspectiveID: id,
		Timings:       o.commitTimings(rec),
		Audio:         persistence.AudioSet(audioRef),
		Duration:      rec.Duration,
		Token:         o.cfg.Upload.Token,
	})
	if err != nil {
		return result, o.commitFailed(id, "persist take", err)
	}

	if o.deps.Drafts != nil && o.deps.Drafts.Delete != nil {
		o.deps.Drafts.Delete(o.cfg.Drafts.Scope, id)
	}
	if err := o.deps.Pending.Clear(ctx, pendingID); err != nil {
		o.logger.Warn("pending entry cleanup failed",
			logging.String(logging.FieldPending, pendingID),
			logging.Error(err))
	}

	o.deps.Coordinator.Apply(id, runtimestate.Fields{
		runtimestate.FieldTimings: saved.Timings,
	})
	o.markSaved(id, audioRef)

	o.logger.Info("take committed",
		logging.String(logging.FieldPending, pendingID),
		logging.String(logging.FieldPerspective, id),
		logging.String("audio_ref", audioRef))
	return result, nil
}

// transcode converts the stored payload to the canonical container. A
// failure is non-fatal: the original payload is uploaded unmodified.
func (o *Orchestrator) transcode(rec *pendingstore.Record) ([]byte, string) {
	payload, mimeType, err := analysis.Transcode(rec.Payload)
	if err != nil {
		o.logger.Warn("transcode failed, uploading original payload",
			logging.String(logging.FieldPending, rec.ID),
			logging.Error(err))
		return rec.Payload, rec.MimeType
	}
	return payload, mimeType
}

// commitTimings prefers the live runtime timings over the snapshot stored
// with the record, so marks added after capture are not lost on commit.
func (o *Orchestrator) commitTimings(rec *pendingstore.Record) timing.Entries {
	if live := o.timingsFor(rec.PerspectiveID); len(live) > 0 {
		return live
	}
	return rec.Timings
}

// commitFailed distinguishes interruption (paused, resumable) from terminal
// failure (error state with message).
func (o *Orchestrator) commitFailed(id, operation string, err error) error {
	if faults.Aborted(err) {
		o.logger.Info("commit interrupted, pending entry retained",
			logging.String(logging.FieldPerspective, id))
		o.setStatus(id, StatusPaused)
		return err
	}
	o.fail(id, operation, err)
	return err
}
