package analysis

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"recite/internal/faults"
	"recite/internal/logging"
)

func sine(n int, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(float64(i)/8)
	}
	return out
}

// encodeStereo interleaves two equal-length channels into a 16-bit WAV.
func encodeStereo(left, right []float64, rate int) []byte {
	interleaved := make([]float64, 0, len(left)*2)
	for i := range left {
		interleaved = append(interleaved, left[i], right[i])
	}
	payload := EncodeWAV(interleaved, rate)
	binary.LittleEndian.PutUint16(payload[22:24], 2)            // channels
	binary.LittleEndian.PutUint32(payload[28:32], uint32(rate*4)) // byte rate
	binary.LittleEndian.PutUint16(payload[32:34], 4)            // block align
	return payload
}

func TestWavRoundTrip(t *testing.T) {
	const n, rate = 1000, 44100
	payload := EncodeWAV(sine(n, 0.5), rate)

	header, err := ParseWAVHeader(payload)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if header.DataSize != 2*n {
		t.Fatalf("dataSize = %d, want %d", header.DataSize, 2*n)
	}
	if header.SampleRate != rate {
		t.Fatalf("sampleRate = %d, want %d", header.SampleRate, rate)
	}
	if header.Channels != 1 || header.BitDepth != 16 {
		t.Fatalf("unexpected format: %+v", header)
	}

	channels, gotRate, err := decodePCM(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotRate != rate || len(channels) != 1 || len(channels[0]) != n {
		t.Fatalf("decode mismatch: rate=%d channels=%d frames=%d", gotRate, len(channels), len(channels[0]))
	}
}

func TestEncodeWAVScalesRailsAsymmetrically(t *testing.T) {
	payload := EncodeWAV([]float64{-1, 1, -2, 2}, 8000)
	samples := payload[wavHeaderSize:]
	if got := int16(binary.LittleEndian.Uint16(samples[0:2])); got != -0x8000 {
		t.Fatalf("negative rail = %d, want %d", got, -0x8000)
	}
	if got := int16(binary.LittleEndian.Uint16(samples[2:4])); got != 0x7fff {
		t.Fatalf("positive rail = %d, want %d", got, 0x7fff)
	}
	// Out-of-range input clamps to the same rails.
	if got := int16(binary.LittleEndian.Uint16(samples[4:6])); got != -0x8000 {
		t.Fatalf("clamped negative = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(samples[6:8])); got != 0x7fff {
		t.Fatalf("clamped positive = %d", got)
	}
}

func TestWaveformShapeAndSilence(t *testing.T) {
	bars := waveform(sine(48000, 0.8))
	if len(bars) != WaveformBars {
		t.Fatalf("expected %d bars, got %d", WaveformBars, len(bars))
	}
	var peak float64
	for _, bar := range bars {
		if bar < 0 || bar > 1 {
			t.Fatalf("bar out of unit interval: %v", bar)
		}
		if bar > peak {
			peak = bar
		}
	}
	if peak != 1 {
		t.Fatalf("normalized waveform should peak at 1, got %v", peak)
	}

	silent := waveform(make([]float64, 5000))
	if len(silent) != WaveformBars {
		t.Fatalf("silence must still yield %d bars", WaveformBars)
	}
	for _, bar := range silent {
		if bar != 0 {
			t.Fatalf("silence must yield zeros, got %v", bar)
		}
	}
}

func TestTrimTailSkipsShortTakes(t *testing.T) {
	const rate = 10000
	long := make([]float64, rate) // 1s
	if got := trimTail(long, rate); len(got) != rate-10 {
		t.Fatalf("expected 1ms trim, got %d samples", len(got))
	}
	short := make([]float64, rate/100) // 10ms
	if got := trimTail(short, rate); len(got) != len(short) {
		t.Fatalf("short take must not be trimmed, got %d samples", len(got))
	}
}

func TestMixdownAverages(t *testing.T) {
	mono := mixdown([][]float64{{1, 1, -1}, {0, 1, 1}})
	want := []float64{0.5, 1, 0}
	for i := range want {
		if math.Abs(mono[i]-want[i]) > 1e-9 {
			t.Fatalf("mixdown[%d] = %v, want %v", i, mono[i], want[i])
		}
	}
}

func TestTranscodeStereoToCanonicalMono(t *testing.T) {
	const rate = 8000
	payload := encodeStereo(sine(rate, 0.5), sine(rate, 0.25), rate)

	out, mime, err := Transcode(payload)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	if mime != CanonicalMimeType {
		t.Fatalf("mime = %q", mime)
	}
	header, err := ParseWAVHeader(out)
	if err != nil {
		t.Fatalf("parse transcoded header: %v", err)
	}
	if header.Channels != 1 || header.SampleRate != rate {
		t.Fatalf("canonical form must be mono at source rate: %+v", header)
	}
}

func TestTranscodeRejectsGarbage(t *testing.T) {
	_, _, err := Transcode([]byte("not audio at all"))
	if err == nil {
		t.Fatal("expected decode failure")
	}
	if !errors.Is(err, faults.ErrTranscodeFailed) {
		t.Fatalf("failure must carry the transcode marker: %v", err)
	}
	if !faults.Recoverable(err) {
		t.Fatal("transcode failure must classify as recoverable")
	}
}

func TestChainFullLadder(t *testing.T) {
	const rate = 8000
	payload := EncodeWAV(sine(rate, 0.7), rate)

	worker := NewWorker(logging.NewNop())
	defer worker.Close()

	got, err := NewChain(worker, logging.NewNop()).Analyze(context.Background(), payload)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Duration <= 0 {
		t.Fatalf("duration must be positive: %v", got.Duration)
	}
	if len(got.Waveform) != WaveformBars {
		t.Fatalf("waveform bars = %d", len(got.Waveform))
	}
}

func TestChainFallsBackWhenWorkerDecodeUnsupported(t *testing.T) {
	const rate = 8000
	payload := EncodeWAV(sine(rate, 0.7), rate)

	worker := NewWorker(logging.NewNop(), WithoutDecode())
	defer worker.Close()

	if _, err := worker.AnalyzePayload(context.Background(), payload); !errors.Is(err, faults.ErrWorkerDecodeUnsupported) {
		t.Fatalf("expected decode-unsupported marker, got %v", err)
	}

	got, err := NewChain(worker, logging.NewNop()).Analyze(context.Background(), payload)
	if err != nil {
		t.Fatalf("split tier should have handled it: %v", err)
	}
	if got.Duration <= 0 {
		t.Fatal("expected analysis from split tier")
	}
}

func TestChainInlineOnlyWithNilWorker(t *testing.T) {
	const rate = 8000
	payload := EncodeWAV(sine(rate, 0.7), rate)
	got, err := NewChain(nil, logging.NewNop()).Analyze(context.Background(), payload)
	if err != nil {
		t.Fatalf("inline tier: %v", err)
	}
	if got.Duration <= 0 {
		t.Fatal("expected analysis from inline tier")
	}
}

func TestChainSurfacesLastTierFailure(t *testing.T) {
	_, err := NewChain(nil, logging.NewNop()).Analyze(context.Background(), []byte("junk"))
	if err == nil {
		t.Fatal("expected failure for undecodable payload")
	}
}

func TestWorkerAnalyzePayload(t *testing.T) {
	const rate = 8000
	payload := EncodeWAV(sine(rate/2, 0.4), rate)

	worker := NewWorker(logging.NewNop())
	defer worker.Close()

	got, err := worker.AnalyzePayload(context.Background(), payload)
	if err != nil {
		t.Fatalf("worker analyze: %v", err)
	}
	if math.Abs(got.Duration-0.499) > 0.01 {
		t.Fatalf("duration = %v, want about 0.5 minus the tail trim", got.Duration)
	}
}

func TestWorkerHonorsContext(t *testing.T) {
	worker := NewWorker(logging.NewNop())
	worker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := worker.AnalyzePayload(ctx, nil); err == nil {
		t.Fatal("expected error after close/cancel")
	}
}
