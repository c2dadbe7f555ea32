package analysis

import (
	"context"
	"log/slog"
	"sync"

	"recite/internal/faults"
	"recite/internal/logging"
)

// Worker owns the dedicated goroutine for per-sample audio math. All
// communication is message/response over channels; no sample buffer is
// shared after submission. One job is in flight per call site, and each
// request carries its own reply channel, so replies need no separate
// correlation id: the reply channel is the correlation.
type Worker struct {
	logger *slog.Logger
	jobs   chan job
	decode bool

	closeOnce sync.Once
	closed    chan struct{}
}

type job struct {
	payload  []byte
	channels [][]float64
	rate     int
	reply    chan jobResult
}

type jobResult struct {
	analysis Analysis
	err      error
}

// WorkerOption configures optional Worker behavior.
type WorkerOption func(*Worker)

// WithoutDecode disables worker-side payload decoding, forcing callers onto
// the split tier. Used where the decode path is unavailable and in tests.
func WithoutDecode() WorkerOption {
	return func(w *Worker) { w.decode = false }
}

// NewWorker starts the processing goroutine.
func NewWorker(logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		logger: logging.NewComponentLogger(logger, "analysis-worker"),
		jobs:   make(chan job),
		decode: true,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w
}

// SupportsDecode reports whether the worker can decode payloads itself.
func (w *Worker) SupportsDecode() bool {
	return w != nil && w.decode
}

// AnalyzePayload decodes and processes entirely on the worker goroutine.
func (w *Worker) AnalyzePayload(ctx context.Context, payload []byte) (Analysis, error) {
	if !w.SupportsDecode() {
		return Analysis{}, faults.ErrWorkerDecodeUnsupported
	}
	return w.submit(ctx, job{payload: payload})
}

// ProcessChannels runs only the heavy math on the worker goroutine; the
// caller has already decoded. Ownership of the channel buffers transfers to
// the worker with the message.
func (w *Worker) ProcessChannels(ctx context.Context, channels [][]float64, rate int) (Analysis, error) {
	return w.submit(ctx, job{channels: channels, rate: rate})
}

func (w *Worker) submit(ctx context.Context, j job) (Analysis, error) {
	j.reply = make(chan jobResult, 1)
	select {
	case w.jobs <- j:
	case <-w.closed:
		return Analysis{}, faults.ErrWorkerDecodeUnsupported
	case <-ctx.Done():
		return Analysis{}, ctx.Err()
	}
	select {
	case result := <-j.reply:
		return result.analysis, result.err
	case <-ctx.Done():
		return Analysis{}, ctx.Err()
	}
}

// Close stops the worker goroutine. In-flight jobs complete first.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.closed) })
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.closed:
			return
		case j := <-w.jobs:
			j.reply <- w.run(j)
		}
	}
}

func (w *Worker) run(j job) jobResult {
	channels, rate := j.channels, j.rate
	if j.payload != nil {
		var err error
		channels, rate, err = decodePCM(j.payload)
		if err != nil {
			w.logger.Debug("worker decode failed", logging.Error(err))
			return jobResult{err: err}
		}
	}
	analysis, _, err := process(channels, rate)
	return jobResult{analysis: analysis, err: err}
}
