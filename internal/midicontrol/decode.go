package midicontrol

// noiseGuard is the largest plausible single-tick delta from a relative
// encoder. Anything bigger is an absolute knob being misread as relative.
const noiseGuard = 32

// DecodeCcDelta interprets a relative-encoder control-change pair. The
// simple wraparound delta (cur-prev folded into [-64,63]) wins when nonzero
// and is returned as-is. A zero delta means the raw value repeated, which
// relative protocols do when resending a center tick; in that case the
// current value alone is read two ways, signed-offset-from-64 and
// two's-complement, and the smaller-magnitude reading wins. Only those
// ambiguous single-value readings pass through the noise guard: a repeated
// value decoding to an implausibly large tick is an absolute knob, not
// motion. Hardware following a third convention is a known limitation of
// the heuristic rather than a bug to fix here.
//
// The boolean is false when no usable delta results.
func DecodeCcDelta(prev, cur int) (int, bool) {
	delta := cur - prev
	if delta > 63 {
		delta -= 128
	} else if delta < -64 {
		delta += 128
	}
	if delta != 0 {
		return delta, true
	}

	offset := cur - 64
	twos := cur
	if twos >= 64 {
		twos -= 128
	}
	if abs(offset) <= abs(twos) {
		delta = offset
	} else {
		delta = twos
	}
	if delta == 0 || abs(delta) > noiseGuard {
		return 0, false
	}
	return delta, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
