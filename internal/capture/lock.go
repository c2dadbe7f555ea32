package capture

import (
	"log/slog"

	"github.com/gofrs/flock"

	"recite/internal/faults"
	"recite/internal/logging"
)

// sessionLock is the advisory lock held while recording is desired. It keeps
// at most one capture session alive across processes. A filesystem that
// cannot support the lock is non-fatal; a lock held elsewhere is.
type sessionLock struct {
	lock   *flock.Flock
	logger *slog.Logger
	held   bool
}

func newSessionLock(path string, logger *slog.Logger) *sessionLock {
	if path == "" {
		return &sessionLock{logger: logger}
	}
	return &sessionLock{lock: flock.New(path), logger: logger}
}

func (l *sessionLock) acquire() error {
	if l.lock == nil {
		return nil
	}
	locked, err := l.lock.TryLock()
	if err != nil {
		l.logger.Warn("session lock unavailable, continuing without it",
			logging.String("path", l.lock.Path()),
			logging.Error(err))
		return nil
	}
	if !locked {
		return faults.Wrap(faults.ErrCaptureFailed, "capture", "lock",
			"another capture session holds "+l.lock.Path(), nil)
	}
	l.held = true
	return nil
}

func (l *sessionLock) release() {
	if l.lock == nil || !l.held {
		return
	}
	if err := l.lock.Unlock(); err != nil {
		l.logger.Warn("session lock release failed", logging.Error(err))
	}
	l.held = false
}
