package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"recite/internal/faults"
)

// SampleFormat names one candidate capture format.
type SampleFormat string

const (
	FormatFloat32 SampleFormat = "float32"
	FormatInt16   SampleFormat = "int16"
)

// FormatSupport records the probe outcome for a single candidate.
type FormatSupport struct {
	Format   SampleFormat
	Record   bool
	Playback bool
}

func (s FormatSupport) String() string {
	return fmt.Sprintf("%s(record=%t playback=%t)", s.Format, s.Record, s.Playback)
}

// Prober selects the capture format once per process. Candidates are tried
// in the configured preference order; a candidate must pass a record probe
// and an independent playback probe, since input and output support are not
// guaranteed to match. The first passing candidate is cached and reused.
type Prober struct {
	sampleRate int
	frames     int

	mu          sync.Mutex
	probed      bool
	selected    SampleFormat
	diagnostics []FormatSupport

	// overridden in tests
	probeRecord   func(format SampleFormat) bool
	probePlayback func(format SampleFormat) bool
}

// NewProber builds a prober for the given stream parameters.
func NewProber(sampleRate, framesPerBuffer int) *Prober {
	p := &Prober{sampleRate: sampleRate, frames: framesPerBuffer}
	p.probeRecord = p.openProbe(true)
	p.probePlayback = p.openProbe(false)
	return p
}

// Select returns the first candidate passing both probes. The result is
// cached for the life of the process; later calls return the cached format
// without touching the hardware again.
func (p *Prober) Select(candidates []string) (SampleFormat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.probed {
		if p.selected == "" {
			return "", p.unsupported()
		}
		return p.selected, nil
	}

	p.probed = true
	for _, raw := range candidates {
		format, err := parseFormat(raw)
		if err != nil {
			return "", err
		}
		support := FormatSupport{
			Format:   format,
			Record:   p.probeRecord(format),
			Playback: p.probePlayback(format),
		}
		p.diagnostics = append(p.diagnostics, support)
		if support.Record && support.Playback {
			p.selected = format
			return format, nil
		}
	}
	return "", p.unsupported()
}

// Diagnostics returns the per-candidate probe results gathered so far.
func (p *Prober) Diagnostics() []FormatSupport {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FormatSupport, len(p.diagnostics))
	copy(out, p.diagnostics)
	return out
}

func (p *Prober) unsupported() error {
	parts := make([]string, 0, len(p.diagnostics))
	for _, support := range p.diagnostics {
		parts = append(parts, support.String())
	}
	return faults.Wrap(faults.ErrCaptureUnsupported, "capture", "probe",
		"no candidate format passed both probes: "+strings.Join(parts, ", "), nil)
}

// openProbe opens and immediately closes a one-channel stream in the given
// direction to confirm the host can service the format.
func (p *Prober) openProbe(input bool) func(SampleFormat) bool {
	return func(format SampleFormat) bool {
		open := func(buffer interface{}) (*portaudio.Stream, error) {
			if input {
				return portaudio.OpenDefaultStream(1, 0, float64(p.sampleRate), p.frames, buffer)
			}
			return portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), p.frames, buffer)
		}
		var (
			stream *portaudio.Stream
			err    error
		)
		switch format {
		case FormatFloat32:
			stream, err = open(make([]float32, p.frames))
		case FormatInt16:
			stream, err = open(make([]int16, p.frames))
		default:
			return false
		}
		if err != nil {
			return false
		}
		_ = stream.Close()
		return true
	}
}

func parseFormat(raw string) (SampleFormat, error) {
	switch SampleFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatFloat32:
		return FormatFloat32, nil
	case FormatInt16:
		return FormatInt16, nil
	default:
		return "", fmt.Errorf("unknown capture format %q", raw)
	}
}
