package timing

import "sort"

// Segment is one disjoint span of detected speech, in track seconds.
type Segment struct {
	Start float64
	End   float64
}

func (s Segment) duration() float64 {
	if d := s.End - s.Start; d > 0 {
		return d
	}
	return 0
}

// AllocateSegments distributes wordCount timing entries across disjoint
// speech segments: each segment receives an integer word count proportional
// to its duration (largest-remainder method, remainder ties won by the
// longer segment), capped at what fits at minWordDur; each segment's span is
// then subdivided evenly among its words. Words beyond total capacity are
// appended sequentially past the last segment end at minWordDur apiece.
//
// This is the non-interactive auto-align path; the live flow seeds
// placeholders and relies on manual correction instead.
func AllocateSegments(segments []Segment, wordCount int, minWordDur float64) Entries {
	if wordCount <= 0 {
		return nil
	}
	if minWordDur <= 0 {
		minWordDur = DefaultDuration
	}

	counts := make([]int, len(segments))
	var total float64
	for _, segment := range segments {
		total += segment.duration()
	}

	assigned := 0
	if total > 0 {
		type slack struct {
			index     int
			remainder float64
			duration  float64
		}
		slacks := make([]slack, 0, len(segments))
		for i, segment := range segments {
			exact := float64(wordCount) * segment.duration() / total
			counts[i] = int(exact)
			assigned += counts[i]
			slacks = append(slacks, slack{index: i, remainder: exact - float64(counts[i]), duration: segment.duration()})
		}
		sort.SliceStable(slacks, func(a, b int) bool {
			if slacks[a].remainder != slacks[b].remainder {
				return slacks[a].remainder > slacks[b].remainder
			}
			return slacks[a].duration > slacks[b].duration
		})
		for i := 0; assigned < wordCount && i < len(slacks); i++ {
			counts[slacks[i].index]++
			assigned++
		}

		// Capacity cap: a segment holds no more words than fit at minWordDur.
		for i, segment := range segments {
			capacity := int(segment.duration() / minWordDur)
			if capacity < 1 {
				capacity = 1
			}
			if counts[i] > capacity {
				assigned -= counts[i] - capacity
				counts[i] = capacity
			}
		}
	}

	out := make(Entries, 0, wordCount)
	for i, segment := range segments {
		n := counts[i]
		if n == 0 {
			continue
		}
		step := segment.duration() / float64(n)
		for w := 0; w < n && len(out) < wordCount; w++ {
			start := segment.Start + float64(w)*step
			out = append(out, &Entry{Start: start, End: start + step})
		}
	}

	// Leftovers run past the last segment end at the minimum duration.
	cursor := 0.0
	if n := len(segments); n > 0 {
		cursor = segments[n-1].End
	}
	for len(out) < wordCount {
		out = append(out, &Entry{Start: cursor, End: cursor + minWordDur})
		cursor += minWordDur
	}
	return out
}
