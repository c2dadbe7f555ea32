package capture

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"recite/internal/analysis"
	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/logging"
)

// StopReason distinguishes why a recording ended. Downstream logic must not
// mislabel a hardware failure as a deliberate stop.
type StopReason string

const (
	StopUser   StopReason = "user"
	StopDevice StopReason = "device"
	StopError  StopReason = "error"
)

// Take is the finished product of one recording. Payload is canonical
// 16-bit mono WAV of whatever was captured before the stop, however partial.
type Take struct {
	Payload    []byte
	MimeType   string
	SampleRate int
	Duration   float64
	Format     SampleFormat
	Reason     StopReason
}

// Session owns the microphone. At most one recording is active at a time;
// acquiring the microphone always fully tears down any previous recording
// first, and a starting guard blocks a second Start until that teardown
// completes.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger
	prober *Prober
	lock   *sessionLock
	onTake func(Take)

	paOnce sync.Once
	paErr  error

	mu       sync.Mutex
	starting bool
	active   *recording
}

type recording struct {
	stream  *portaudio.Stream
	format  SampleFormat
	bufF32  []float32
	bufI16  []int16
	comp    *compressor
	watcher *deviceWatcher
	rate    int

	mu      sync.Mutex
	samples []float64
	reason  StopReason

	done       chan struct{}
	stopped    chan struct{}
	finished   chan struct{}
	doneOnce   sync.Once
	finishOnce sync.Once
}

// NewSession builds a capture session. Every finished take, whatever the
// stop reason, is delivered through onTake.
func NewSession(cfg *config.Config, logger *slog.Logger, onTake func(Take)) *Session {
	return &Session{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "capture"),
		prober: NewProber(cfg.Capture.SampleRate, cfg.Capture.FramesPerBuffer),
		lock:   newSessionLock(cfg.SessionLockPath(), logger),
		onTake: onTake,
	}
}

// Recording reports whether a recording is currently active.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Start begins a new recording. A Start racing an unfinished teardown is
// rejected rather than queued.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return faults.Wrap(faults.ErrCaptureFailed, "capture", "start",
			"previous session still tearing down", nil)
	}
	s.starting = true
	prev := s.active
	s.active = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	// Teardown first: the microphone is a single exclusive resource.
	if prev != nil {
		prev.setReason(StopUser)
		prev.requestStop()
		<-prev.stopped
		s.finish(prev)
		<-prev.finished
	}

	s.paOnce.Do(func() { s.paErr = portaudio.Initialize() })
	if s.paErr != nil {
		return faults.Wrap(faults.ErrCaptureUnsupported, "capture", "start", "portaudio init", s.paErr)
	}

	format, err := s.prober.Select(s.cfg.Capture.Formats)
	if err != nil {
		return err
	}

	if err := s.lock.acquire(); err != nil {
		return err
	}

	rec, err := s.openRecording(format)
	if err != nil {
		s.lock.release()
		return err
	}

	rec.watcher = newDeviceWatcher(s.logger, func() {
		s.logger.Warn("input device lost during recording")
		rec.setReason(StopDevice)
		rec.requestStop()
	})
	rec.watcher.Start()

	if err := rec.stream.Start(); err != nil {
		rec.watcher.Stop()
		_ = rec.stream.Close()
		s.lock.release()
		return faults.Wrap(faults.ErrCaptureFailed, "capture", "start", "start stream", err)
	}

	go func() {
		rec.run()
		close(rec.stopped)
		s.finish(rec)
	}()

	s.mu.Lock()
	s.active = rec
	s.mu.Unlock()

	s.logger.Info("recording started",
		logging.String("format", string(format)),
		logging.Int("sample_rate", rec.rate))
	return nil
}

// Stop ends the active recording and flushes whatever was captured. A nil
// active recording is a no-op.
func (s *Session) Stop(reason StopReason) {
	s.mu.Lock()
	rec := s.active
	s.active = nil
	s.mu.Unlock()
	if rec == nil {
		return
	}
	rec.setReason(reason)
	rec.requestStop()
	<-rec.stopped
	s.finish(rec)
	// finish may have been entered by the capture goroutine; wait until the
	// take callback has actually completed before returning.
	<-rec.finished
}

// Close stops any active recording and releases PortAudio.
func (s *Session) Close() {
	s.Stop(StopUser)
	s.paOnce.Do(func() { s.paErr = faults.ErrCaptureUnsupported })
	if s.paErr == nil {
		_ = portaudio.Terminate()
	}
}

func (s *Session) openRecording(format SampleFormat) (*recording, error) {
	rec := &recording{
		format:   format,
		rate:     s.cfg.Capture.SampleRate,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	if !compressorBypassed(s.cfg) {
		rec.comp = newCompressor(rec.rate)
	}

	frames := s.cfg.Capture.FramesPerBuffer
	var buffer interface{}
	switch format {
	case FormatInt16:
		rec.bufI16 = make([]int16, frames)
		buffer = rec.bufI16
	default:
		rec.bufF32 = make([]float32, frames)
		buffer = rec.bufF32
	}

	stream, err := s.openStream(frames, buffer)
	if err != nil {
		return nil, faults.Wrap(faults.ErrCaptureFailed, "capture", "open", "open stream", err)
	}
	rec.stream = stream
	return rec, nil
}

// openStream opens the configured named input device, or the default input
// when none is configured or the name matches nothing.
func (s *Session) openStream(frames int, buffer interface{}) (*portaudio.Stream, error) {
	wanted := strings.TrimSpace(s.cfg.Capture.Device)
	if wanted == "" {
		return portaudio.OpenDefaultStream(1, 0, float64(s.cfg.Capture.SampleRate), frames, buffer)
	}
	devices, err := portaudio.Devices()
	if err == nil {
		for _, device := range devices {
			if device.MaxInputChannels < 1 {
				continue
			}
			if strings.Contains(strings.ToLower(device.Name), strings.ToLower(wanted)) {
				params := portaudio.LowLatencyParameters(device, nil)
				params.Input.Channels = 1
				params.SampleRate = float64(s.cfg.Capture.SampleRate)
				params.FramesPerBuffer = frames
				return portaudio.OpenStream(params, buffer)
			}
		}
	}
	s.logger.Warn("configured input device not found, using default",
		logging.String("device", wanted))
	return portaudio.OpenDefaultStream(1, 0, float64(s.cfg.Capture.SampleRate), frames, buffer)
}

// finish tears down the recording exactly once and emits the take unless it
// is literally empty.
func (s *Session) finish(rec *recording) {
	rec.finishOnce.Do(func() {
		defer close(rec.finished)
		_ = rec.stream.Stop()
		_ = rec.stream.Close()
		rec.watcher.Stop()
		s.lock.release()

		s.mu.Lock()
		if s.active == rec {
			s.active = nil
		}
		s.mu.Unlock()

		rec.mu.Lock()
		samples := rec.samples
		rec.samples = nil
		reason := rec.reason
		rec.mu.Unlock()
		if reason == "" {
			reason = StopError
		}

		if len(samples) == 0 {
			s.logger.Info("recording stopped with empty take",
				logging.String("reason", string(reason)))
			return
		}

		take := Take{
			Payload:    analysis.EncodeWAV(samples, rec.rate),
			MimeType:   analysis.CanonicalMimeType,
			SampleRate: rec.rate,
			Duration:   float64(len(samples)) / float64(rec.rate),
			Format:     rec.format,
			Reason:     reason,
		}
		s.logger.Info("recording stopped",
			logging.String("reason", string(reason)),
			logging.Float64("duration", take.Duration))
		if s.onTake != nil {
			s.onTake(take)
		}
	})
}

func (rec *recording) setReason(reason StopReason) {
	rec.mu.Lock()
	if rec.reason == "" {
		rec.reason = reason
	}
	rec.mu.Unlock()
}

func (rec *recording) requestStop() {
	rec.doneOnce.Do(func() { close(rec.done) })
}

// run pulls chunks from the stream until stopped or the stream errors.
func (rec *recording) run() {
	for {
		select {
		case <-rec.done:
			return
		default:
		}
		if err := rec.stream.Read(); err != nil {
			rec.setReason(StopError)
			return
		}
		chunk := rec.convert()
		if rec.comp != nil {
			rec.comp.process(chunk)
		}
		rec.mu.Lock()
		rec.samples = append(rec.samples, chunk...)
		rec.mu.Unlock()
	}
}

func (rec *recording) convert() []float64 {
	if rec.format == FormatInt16 {
		chunk := make([]float64, len(rec.bufI16))
		for i, sample := range rec.bufI16 {
			chunk[i] = float64(sample) / 0x8000
		}
		return chunk
	}
	chunk := make([]float64, len(rec.bufF32))
	for i, sample := range rec.bufF32 {
		chunk[i] = float64(sample)
	}
	return chunk
}
