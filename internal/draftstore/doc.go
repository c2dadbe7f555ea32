// Package draftstore autosaves in-progress timing edits keyed by scope and
// perspective. Writes are debounced into a primary JSON file; when the
// primary write fails the payload lands in a smaller fallback file instead,
// and the next successful primary write clears the stale fallback copy.
package draftstore
