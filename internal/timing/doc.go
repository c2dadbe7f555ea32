// Package timing holds the pure functions over sparse per-word timing
// arrays: normalization for playback, active-word lookup, duration
// derivation, and the segment-based auto-allocation utility.
//
// Timing entries are produced by imprecise manual marking (keypress or
// controller), so Normalize enforces strictly increasing starts and lookup
// never bridges an unmarked gap: an unmarked word must not steal its
// neighbor's highlight.
package timing
