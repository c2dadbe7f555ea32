package timing

import "math"

// DefaultDuration is the window, in seconds, granted to a marked word whose
// end cannot be resolved any other way.
const DefaultDuration = 0.2

// Epsilon is the minimal nudge applied to keep starts strictly increasing.
const Epsilon = 0.001

// Entry marks when a word position becomes active, in track seconds. End is
// optional: zero (or any value not greater than Start) means absent. Word
// carries the marked text for diagnostics only.
type Entry struct {
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
	Word  string  `json:"word,omitempty"`
}

// Entries is a sparse array positionally aligned with the word list: index i
// times word i; nil or a short tail means unmarked.
type Entries []*Entry

// hasEnd reports whether the entry carries a usable explicit end.
func (e *Entry) hasEnd() bool {
	return e != nil && isFinite(e.End) && e.End > e.Start
}

func valid(e *Entry) bool {
	return e != nil && isFinite(e.Start)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Normalize returns a derived, playback-ready copy: starts are strictly
// increasing (ties and inversions nudged forward by Epsilon), entries with a
// non-finite start become nil, and ends survive only when finite and greater
// than the possibly-raised start. The input is never mutated; the result is
// never persisted.
func Normalize(entries Entries) Entries {
	out := make(Entries, len(entries))
	prev := math.Inf(-1)
	for i, entry := range entries {
		if !valid(entry) {
			continue
		}
		start := entry.Start
		if start <= prev {
			start = prev + Epsilon
		}
		normalized := &Entry{Start: start, Word: entry.Word}
		if isFinite(entry.End) && entry.End > start {
			normalized.End = entry.End
		}
		out[i] = normalized
		prev = start
	}
	return out
}

// effectiveEnd resolves the end of the marked entry at index i: its own
// valid end, else the start of the next marked entry (unmarked words do not
// inherit a window), else Start+DefaultDuration.
func effectiveEnd(entries Entries, i int) float64 {
	entry := entries[i]
	if entry.hasEnd() {
		return entry.End
	}
	for j := i + 1; j < len(entries); j++ {
		if valid(entries[j]) {
			return entries[j].Start
		}
	}
	return entry.Start + DefaultDuration
}

// ActiveIndex returns the index of the word whose [start, effectiveEnd)
// window contains t, or -1. A time falling in an unmarked gap yields -1:
// windows never bridge gaps.
func ActiveIndex(entries Entries, t float64) int {
	if !isFinite(t) {
		return -1
	}
	for i, entry := range entries {
		if !valid(entry) {
			continue
		}
		if t < entry.Start {
			continue
		}
		if t < effectiveEnd(entries, i) {
			return i
		}
	}
	return -1
}

// Duration returns the playback window length for index i, never less than
// DefaultDuration. Unmarked or out-of-range indices resolve to
// DefaultDuration.
func Duration(entries Entries, i int) float64 {
	if i < 0 || i >= len(entries) || !valid(entries[i]) {
		return DefaultDuration
	}
	return math.Max(effectiveEnd(entries, i)-entries[i].Start, DefaultDuration)
}

// Bounds returns the [min start, max end] across marked entries, resolving
// ends through effectiveEnd. ok is false when nothing is marked.
func Bounds(entries Entries) (start, end float64, ok bool) {
	start = math.Inf(1)
	end = math.Inf(-1)
	for i, entry := range entries {
		if !valid(entry) {
			continue
		}
		ok = true
		if entry.Start < start {
			start = entry.Start
		}
		if e := effectiveEnd(entries, i); e > end {
			end = e
		}
	}
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

// MaxEnd returns the largest resolved end across marked entries, or 0.
func MaxEnd(entries Entries) float64 {
	_, end, ok := Bounds(entries)
	if !ok {
		return 0
	}
	return end
}

// Marked counts non-nil, finite entries.
func Marked(entries Entries) int {
	n := 0
	for _, entry := range entries {
		if valid(entry) {
			n++
		}
	}
	return n
}

// SeedPlaceholder spreads wordCount placeholder marks evenly across a track
// of the given duration, giving the performer something to correct
// immediately after capture.
func SeedPlaceholder(wordCount int, duration float64) Entries {
	if wordCount <= 0 {
		return nil
	}
	if !isFinite(duration) || duration <= 0 {
		duration = float64(wordCount) * DefaultDuration
	}
	step := duration / float64(wordCount)
	out := make(Entries, wordCount)
	for i := range out {
		out[i] = &Entry{Start: float64(i) * step, End: float64(i+1) * step}
	}
	return out
}
