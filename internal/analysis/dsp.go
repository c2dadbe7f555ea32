package analysis

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/wav"
)

const (
	// WaveformBars is the fixed number of unit-interval values in every
	// waveform summary.
	WaveformBars = 120

	// tailTrimSeconds is shaved off the end of every take to remove the
	// click of the stop action.
	tailTrimSeconds = 0.001

	// minRemainSeconds protects very short takes: when trimming would leave
	// less than this, no trim happens at all.
	minRemainSeconds = 0.2
)

// Analysis is the common product of every tier.
type Analysis struct {
	// Duration of the processed take in seconds, always > 0 for non-empty
	// input.
	Duration float64 `json:"duration"`
	// Waveform holds exactly WaveformBars values in [0, 1].
	Waveform []float64 `json:"waveform"`
}

// ErrEmptyPayload marks payloads with no decodable samples.
var ErrEmptyPayload = errors.New("audio payload holds no samples")

// decodePCM parses a WAV payload into per-channel float samples in [-1, 1].
func decodePCM(payload []byte) (channels [][]float64, sampleRate int, err error) {
	decoder := wav.NewDecoder(bytes.NewReader(payload))
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, ErrEmptyPayload
	}

	numChannels := buf.Format.NumChannels
	if numChannels < 1 {
		numChannels = 1
	}
	rate := buf.Format.SampleRate
	if rate <= 0 {
		return nil, 0, fmt.Errorf("decode wav: invalid sample rate %d", rate)
	}

	scale := math.Pow(2, float64(buf.SourceBitDepth-1))
	if scale <= 0 {
		scale = 1 << 15
	}

	frames := len(buf.Data) / numChannels
	channels = make([][]float64, numChannels)
	for ch := range channels {
		channels[ch] = make([]float64, frames)
	}
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < numChannels; ch++ {
			channels[ch][frame] = float64(buf.Data[frame*numChannels+ch]) / scale
		}
	}
	return channels, rate, nil
}

// mixdown averages all channels into one mono track.
func mixdown(channels [][]float64) []float64 {
	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		out := make([]float64, len(channels[0]))
		copy(out, channels[0])
		return out
	}
	frames := len(channels[0])
	out := make([]float64, frames)
	for frame := 0; frame < frames; frame++ {
		var sum float64
		for _, channel := range channels {
			if frame < len(channel) {
				sum += channel[frame]
			}
		}
		out[frame] = sum / float64(len(channels))
	}
	return out
}

// trimTail drops the stop-click from the end of the take unless doing so
// would leave less than the minimum remaining duration, in which case the
// take is returned untouched.
func trimTail(samples []float64, sampleRate int) []float64 {
	trim := int(tailTrimSeconds * float64(sampleRate))
	keep := len(samples) - trim
	if trim <= 0 || keep < int(minRemainSeconds*float64(sampleRate)) {
		return samples
	}
	return samples[:keep]
}

// waveform summarizes samples into exactly WaveformBars peak values
// normalized to [0, 1]. A silent take yields all zeros: a zero peak never
// divides.
func waveform(samples []float64) []float64 {
	bars := make([]float64, WaveformBars)
	if len(samples) == 0 {
		return bars
	}
	stride := len(samples) / WaveformBars
	if stride < 1 {
		stride = 1
	}
	var peak float64
	for bar := 0; bar < WaveformBars; bar++ {
		lo := bar * stride
		if lo >= len(samples) {
			break
		}
		hi := lo + stride
		if bar == WaveformBars-1 || hi > len(samples) {
			hi = len(samples)
		}
		var barPeak float64
		for _, sample := range samples[lo:hi] {
			if abs := math.Abs(sample); abs > barPeak {
				barPeak = abs
			}
		}
		bars[bar] = barPeak
		if barPeak > peak {
			peak = barPeak
		}
	}
	if peak > 0 {
		for i := range bars {
			bars[i] /= peak
		}
	}
	return bars
}

// process runs the full mono pipeline over decoded channels.
func process(channels [][]float64, sampleRate int) (Analysis, []float64, error) {
	mono := trimTail(mixdown(channels), sampleRate)
	if len(mono) == 0 {
		return Analysis{}, nil, ErrEmptyPayload
	}
	return Analysis{
		Duration: float64(len(mono)) / float64(sampleRate),
		Waveform: waveform(mono),
	}, mono, nil
}
