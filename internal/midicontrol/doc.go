// Package midicontrol subscribes to one MIDI input and drives word marking
// through three narrow callback ports: mark, undo, and nudge. The rest of
// the system never touches the MIDI layer directly.
package midicontrol
