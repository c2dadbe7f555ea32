package runtimestate

// BoundsProfile selects how playback bounds are derived for a track.
type BoundsProfile string

const (
	// ProfileDatabase clips playback to the persisted start/end and loops
	// within them.
	ProfileDatabase BoundsProfile = "database-bounds"
	// ProfileFullFile always plays the whole file.
	ProfileFullFile BoundsProfile = "full-file"
)

// Bounds is the effective playback window.
type Bounds struct {
	Start float64
	End   float64
	Loop  bool
}

// PlaybackBounds resolves the window for one track. A local audio override
// (a freshly captured take not yet bound on the server) always forces
// full-file: the persisted bounds don't describe it yet.
func PlaybackBounds(profile BoundsProfile, start, end, fileEnd float64, localOverride bool) Bounds {
	if localOverride || profile != ProfileDatabase {
		return Bounds{Start: 0, End: fileEnd}
	}
	// Degenerate persisted bounds describe nothing playable; fall back to
	// the whole file rather than inventing a window from one good edge.
	if end <= start {
		return Bounds{Start: 0, End: fileEnd, Loop: true}
	}
	if end > fileEnd {
		end = fileEnd
	}
	if start < 0 || start >= end {
		start = 0
	}
	return Bounds{Start: start, End: end, Loop: true}
}

// NextInSequence scans forward through the fixed perspective order, starting
// after current, for the next perspective with a resolvable non-empty audio
// source. The boolean is false when none exists.
func NextInSequence(order []string, current string, resolvable func(id string) bool) (string, bool) {
	from := 0
	for i, id := range order {
		if id == current {
			from = i + 1
			break
		}
	}
	for _, id := range order[from:] {
		if resolvable(id) {
			return id, true
		}
	}
	return "", false
}
