package runtimestate

import (
	"reflect"
	"testing"
)

func samePointer(a, b States) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestPatchMergesShallow(t *testing.T) {
	states := States{"p1": Fields{FieldAudioSrc: "a.wav", FieldPlaybackTime: 1.0}}
	next := Patch(states, "p1", Fields{FieldPlaybackTime: 2.0})

	if samePointer(states, next) {
		t.Fatal("a changing patch must return a new map")
	}
	if next["p1"][FieldAudioSrc] != "a.wav" {
		t.Fatal("untouched fields must survive the merge")
	}
	if next["p1"][FieldPlaybackTime] != 2.0 {
		t.Fatal("patched field not applied")
	}
	if states["p1"][FieldPlaybackTime] != 1.0 {
		t.Fatal("original map mutated")
	}
}

func TestPatchNoChangeReturnsSameReference(t *testing.T) {
	states := States{"p1": Fields{FieldPlaybackTime: 2.0}}
	next := Patch(states, "p1", Fields{FieldPlaybackTime: 2.0})
	if !samePointer(states, next) {
		t.Fatal("identical patch must return the same map reference")
	}
}

func TestPatchDeleteSentinel(t *testing.T) {
	states := States{"p1": Fields{FieldLocalAudio: "blob", FieldAnalysis: "x"}}
	next := Patch(states, "p1", Fields{FieldLocalAudio: Deleted})

	if _, ok := next["p1"][FieldLocalAudio]; ok {
		t.Fatal("Deleted sentinel must remove the field")
	}
	if _, ok := next["p1"][FieldAnalysis]; !ok {
		t.Fatal("other fields must survive")
	}
}

func TestPatchDeleteOfAbsentFieldIsNoOp(t *testing.T) {
	states := States{"p1": Fields{FieldAnalysis: "x"}}
	next := Patch(states, "p1", Fields{FieldLocalAudio: Deleted})
	if !samePointer(states, next) {
		t.Fatal("deleting an absent field must be a no-op")
	}
}

func TestPatchNewEntry(t *testing.T) {
	next := Patch(States{}, "p1", Fields{FieldStatus: "recording"})
	if next["p1"][FieldStatus] != "recording" {
		t.Fatal("patch must create missing entries")
	}
}

func TestPlaybackBounds(t *testing.T) {
	got := PlaybackBounds(ProfileDatabase, 1.5, 4.0, 10.0, false)
	if got.Start != 1.5 || got.End != 4.0 || !got.Loop {
		t.Fatalf("database bounds wrong: %+v", got)
	}

	got = PlaybackBounds(ProfileFullFile, 1.5, 4.0, 10.0, false)
	if got.Start != 0 || got.End != 10.0 || got.Loop {
		t.Fatalf("full-file bounds wrong: %+v", got)
	}

	// A local override always forces full-file: persisted bounds do not
	// describe the fresh take.
	got = PlaybackBounds(ProfileDatabase, 1.5, 4.0, 10.0, true)
	if got.Start != 0 || got.End != 10.0 || got.Loop {
		t.Fatalf("local override must force full-file: %+v", got)
	}

	// Degenerate persisted bounds fall back to the file extent.
	got = PlaybackBounds(ProfileDatabase, 5.0, 2.0, 10.0, false)
	if got.Start != 0 || got.End != 10.0 {
		t.Fatalf("degenerate bounds not corrected: %+v", got)
	}
}

func TestNextInSequence(t *testing.T) {
	order := []string{"a", "b", "c", "d"}
	playable := map[string]bool{"c": true, "d": true}
	resolvable := func(id string) bool { return playable[id] }

	next, ok := NextInSequence(order, "a", resolvable)
	if !ok || next != "c" {
		t.Fatalf("expected c, got %q ok=%t", next, ok)
	}
	next, ok = NextInSequence(order, "c", resolvable)
	if !ok || next != "d" {
		t.Fatalf("expected d, got %q ok=%t", next, ok)
	}
	if _, ok := NextInSequence(order, "d", resolvable); ok {
		t.Fatal("no perspective after d should resolve")
	}
	if _, ok := NextInSequence(order, "a", func(string) bool { return false }); ok {
		t.Fatal("nothing resolvable must report false")
	}
}
