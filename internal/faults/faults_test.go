package faults_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"recite/internal/faults"
)

func TestWrapTagsMarker(t *testing.T) {
	err := faults.Wrap(faults.ErrUploadFailed, "uploader", "put", "status 500", errors.New("boom"))
	if !errors.Is(err, faults.ErrUploadFailed) {
		t.Fatalf("expected upload failure marker, got %v", err)
	}
	if got := err.Error(); got != "upload failed: uploader: put: status 500: boom" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestWrapNilMarkerDefaultsToPersistFailed(t *testing.T) {
	err := faults.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, faults.ErrPersistFailed) {
		t.Fatalf("expected persist failure marker, got %v", err)
	}
}

func TestRecoverable(t *testing.T) {
	if !faults.Recoverable(faults.Wrap(faults.ErrTranscodeFailed, "analysis", "encode", "", nil)) {
		t.Fatal("transcode failures should be recoverable")
	}
	if !faults.Recoverable(faults.ErrWorkerDecodeUnsupported) {
		t.Fatal("worker decode gaps should be recoverable")
	}
	if faults.Recoverable(faults.ErrUploadFailed) {
		t.Fatal("upload failures are terminal")
	}
}

func TestAborted(t *testing.T) {
	if !faults.Aborted(context.Canceled) {
		t.Fatal("context cancellation counts as abort")
	}
	if !faults.Aborted(fmt.Errorf("wrapped: %w", faults.ErrUploadAborted)) {
		t.Fatal("wrapped abort marker counts as abort")
	}
	if faults.Aborted(faults.ErrPersistFailed) {
		t.Fatal("persist failure is not an abort")
	}
}
