package runtimestate

import "reflect"

// Well-known entry fields.
const (
	FieldTimings      = "timings"
	FieldAudioSrc     = "audioSrc"
	FieldLocalAudio   = "localAudio"
	FieldAnalysis     = "analysis"
	FieldPlaybackTime = "playbackTime"
	FieldStatus       = "status"
	FieldSaved        = "saved"
	FieldError        = "error"
	FieldStartTime    = "startTime"
	FieldEndTime      = "endTime"
)

type deleted struct{}

// Deleted is the explicit field-clear sentinel: patching a field to Deleted
// removes it from the entry.
var Deleted = deleted{}

// Fields holds one perspective's runtime entry.
type Fields map[string]any

// States maps perspective id to its runtime entry. Treat as immutable:
// Patch returns a new map when anything changed and the identical map when
// nothing did.
type States map[string]Fields

// Patch shallow-merges patch into the entry for id. A Deleted value removes
// the field; a patch that changes nothing returns states unchanged, same
// reference, which is what bounds downstream recomputation in a
// high-frequency update path.
func Patch(states States, id string, patch Fields) States {
	if len(patch) == 0 {
		return states
	}

	entry := states[id]
	if !patchChanges(entry, patch) {
		return states
	}

	next := make(States, len(states)+1)
	for key, value := range states {
		next[key] = value
	}

	merged := make(Fields, len(entry)+len(patch))
	for key, value := range entry {
		merged[key] = value
	}
	for key, value := range patch {
		if _, isDelete := value.(deleted); isDelete {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	next[id] = merged
	return next
}

func patchChanges(entry Fields, patch Fields) bool {
	for key, value := range patch {
		existing, present := entry[key]
		if _, isDelete := value.(deleted); isDelete {
			if present {
				return true
			}
			continue
		}
		if !present || !reflect.DeepEqual(existing, value) {
			return true
		}
	}
	return false
}
