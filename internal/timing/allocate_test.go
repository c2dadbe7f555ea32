package timing

import (
	"math"
	"testing"
)

func TestAllocateProportional(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 3},
		{Start: 4, End: 5},
	}
	entries := AllocateSegments(segments, 4, 0.1)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	// 3s vs 1s at 4 words: 3 in the first segment, 1 in the second.
	if entries[2].Start >= 3 {
		t.Fatalf("third word should sit in the first segment: %+v", entries[2])
	}
	if entries[3].Start != 4 {
		t.Fatalf("fourth word should open the second segment: %+v", entries[3])
	}
}

func TestAllocateRemainderTieGoesToLongerSegment(t *testing.T) {
	// 2.5 words each exactly; the tie goes to the longer segment, so with
	// equal durations either is acceptable but the total must be exact.
	segments := []Segment{
		{Start: 0, End: 2},
		{Start: 3, End: 5},
	}
	entries := AllocateSegments(segments, 5, 0.1)
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
}

func TestAllocateOverflowAppendsPastLastSegment(t *testing.T) {
	segments := []Segment{{Start: 0, End: 0.3}}
	entries := AllocateSegments(segments, 5, 0.2)
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	// Capacity at 0.2s per word in a 0.3s segment is one word.
	if entries[1].Start != 0.3 {
		t.Fatalf("overflow should start at the segment end: %+v", entries[1])
	}
	for i := 1; i < len(entries); i++ {
		if math.Abs(entries[i].End-entries[i].Start-0.2) > 1e-9 {
			t.Fatalf("overflow words use the minimum duration: %+v", entries[i])
		}
	}
}

func TestAllocateNoSegments(t *testing.T) {
	entries := AllocateSegments(nil, 3, 0.25)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Start != 0 {
		t.Fatalf("with no segments words start at zero: %+v", entries[0])
	}
}
