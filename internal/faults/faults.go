package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCaptureUnsupported marks environments with no viable capture format.
	ErrCaptureUnsupported = errors.New("capture unsupported")
	// ErrCaptureDeviceLost marks a recording stopped by hardware removal.
	ErrCaptureDeviceLost = errors.New("capture device lost")
	ErrCaptureFailed     = errors.New("capture failed")
	// ErrTranscodeFailed is non-fatal: the original payload is uploaded instead.
	ErrTranscodeFailed = errors.New("transcode failed")
	// ErrWorkerDecodeUnsupported is non-fatal and advances the analysis
	// fallback chain to the next tier.
	ErrWorkerDecodeUnsupported = errors.New("worker decode unsupported")
	ErrUploadFailed            = errors.New("upload failed")
	// ErrUploadAborted marks an upload cancelled by the caller. Abort is not
	// an error condition: the commit phase reports it as paused.
	ErrUploadAborted       = errors.New("upload aborted")
	ErrPersistUnauthorized = errors.New("persist unauthorized")
	ErrPersistAudioRef     = errors.New("invalid audio reference")
	ErrPersistFailed       = errors.New("persist failed")
	ErrNotFound            = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrPersistFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Recoverable reports whether an error should advance a fallback chain or be
// swallowed best-effort instead of surfacing to the recording state machine.
func Recoverable(err error) bool {
	return errors.Is(err, ErrTranscodeFailed) || errors.Is(err, ErrWorkerDecodeUnsupported)
}

// Aborted reports whether an error represents caller-driven cancellation.
// Context cancellation during the commit phase means "paused", never "failed".
func Aborted(err error) bool {
	return errors.Is(err, ErrUploadAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Unauthorized reports whether a persistence failure requires the caller to
// re-authenticate rather than retry.
func Unauthorized(err error) bool {
	return errors.Is(err, ErrPersistUnauthorized)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "recording failure"
	}
	return strings.Join(parts, ": ")
}
