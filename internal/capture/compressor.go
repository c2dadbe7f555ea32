package capture

import (
	"math"
	"runtime"

	"recite/internal/config"
)

// compressor is a light feed-forward dynamics stage inserted between the
// microphone and the sink to tame levels. Simple envelope follower with a
// hard knee.
type compressor struct {
	threshold float64
	ratio     float64
	attack    float64
	release   float64
	envelope  float64
}

func newCompressor(sampleRate int) *compressor {
	rate := float64(sampleRate)
	return &compressor{
		threshold: 0.5,
		ratio:     4,
		attack:    math.Exp(-1 / (0.003 * rate)),
		release:   math.Exp(-1 / (0.100 * rate)),
	}
}

// process applies gain reduction in place.
func (c *compressor) process(samples []float64) {
	for i, sample := range samples {
		level := math.Abs(sample)
		if level > c.envelope {
			c.envelope = c.attack*c.envelope + (1-c.attack)*level
		} else {
			c.envelope = c.release*c.envelope + (1-c.release)*level
		}
		if c.envelope <= c.threshold {
			continue
		}
		compressed := c.threshold + (c.envelope-c.threshold)/c.ratio
		samples[i] = sample * (compressed / c.envelope)
	}
}

// compressorBypassed reports whether the compressor stage must be skipped.
// The decision is static per platform: on the listed GOOS families the stage
// is known to corrupt capture, so the raw track is recorded directly.
func compressorBypassed(cfg *config.Config) bool {
	return compressorBypassedOn(cfg, runtime.GOOS)
}

func compressorBypassedOn(cfg *config.Config, goos string) bool {
	if cfg == nil || !cfg.Capture.Compressor {
		return true
	}
	for _, bypass := range cfg.Capture.CompressorBypass {
		if bypass == goos {
			return true
		}
	}
	return false
}
