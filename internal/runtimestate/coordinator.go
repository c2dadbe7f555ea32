package runtimestate

import (
	"log/slog"
	"math"
	"reflect"
	"sync"
	"time"

	"recite/internal/logging"
	"recite/internal/timing"
)

const (
	// mirrorInterval throttles clock mirroring to at most 24 updates/s.
	mirrorInterval = time.Second / 24
	// mirrorMinDelta gates redundant updates below 5ms of movement.
	mirrorMinDelta = 0.005
)

// Hooks are the caller-supplied callbacks the coordinator drives.
type Hooks struct {
	// Seek repositions live playback, used by undo.
	Seek func(position float64)
	// Complete fires at natural end-of-track when sequencing finds nothing.
	Complete func()
	// Switch starts playback of another perspective from position zero.
	Switch func(id string)
	// Timings observes every timing mutation, used for draft autosave.
	Timings func(id string, entries timing.Entries)
}

// Coordinator owns the runtime state map. All mutation funnels through
// Apply, which runs the reducer and notifies observers only on change.
type Coordinator struct {
	logger *slog.Logger
	hooks  Hooks

	mu        sync.Mutex
	states    States
	observers []func(States)

	sequence bool
	order    []string

	directSampling bool
	lastMirror     time.Time
	lastMirrored   float64
	position       float64
	now            func() time.Time

	selected  string
	cursor    int
	nudgeStep float64
}

// New builds a coordinator. nudgeStep is the time shift in seconds applied
// per encoder tick.
func New(logger *slog.Logger, nudgeStep float64, hooks Hooks) *Coordinator {
	if nudgeStep <= 0 {
		nudgeStep = 0.01
	}
	return &Coordinator{
		logger:    logging.NewComponentLogger(logger, "runtime"),
		hooks:     hooks,
		states:    make(States),
		now:       time.Now,
		nudgeStep: nudgeStep,
	}
}

// States returns the current map reference. Callers must treat it as
// immutable.
func (c *Coordinator) States() States {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states
}

// Subscribe registers an observer called after every effective change.
func (c *Coordinator) Subscribe(fn func(States)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Apply patches one entry. Observers fire only when the patch changed
// something.
func (c *Coordinator) Apply(id string, patch Fields) {
	c.mu.Lock()
	next := Patch(c.states, id, patch)
	// Patch returns the identical map reference on a no-op.
	changed := reflect.ValueOf(next).Pointer() != reflect.ValueOf(c.states).Pointer()
	c.states = next
	observers := c.observers
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range observers {
		fn(next)
	}
}

// SetSequence configures sequence mode and the fixed perspective order.
func (c *Coordinator) SetSequence(enabled bool, order []string) {
	c.mu.Lock()
	c.sequence = enabled
	c.order = append([]string(nil), order...)
	c.mu.Unlock()
}

// SetDirectSampling marks whether a consumer reads the clock straight from
// the audio source every frame. While that is the case the coordinator does
// not mirror the clock into observable state at all.
func (c *Coordinator) SetDirectSampling(direct bool) {
	c.mu.Lock()
	c.directSampling = direct
	c.mu.Unlock()
}

// SamplePlayback feeds one frame-cadence clock reading. Mirroring into the
// state map is throttled to the mirror interval and gated on a minimum
// position delta.
func (c *Coordinator) SamplePlayback(id string, position float64) {
	c.mu.Lock()
	c.position = position
	if c.directSampling {
		c.mu.Unlock()
		return
	}
	now := c.now()
	if !c.lastMirror.IsZero() {
		if now.Sub(c.lastMirror) < mirrorInterval {
			c.mu.Unlock()
			return
		}
		if math.Abs(position-c.lastMirrored) < mirrorMinDelta {
			c.mu.Unlock()
			return
		}
	}
	c.lastMirror = now
	c.lastMirrored = position
	c.mu.Unlock()

	c.Apply(id, Fields{FieldPlaybackTime: position})
}

// TrackEnded handles natural end-of-track: in sequence mode it scans the
// fixed order for the next perspective with playable audio and switches to
// it, otherwise the completion hook fires.
func (c *Coordinator) TrackEnded(id string) {
	c.mu.Lock()
	sequence := c.sequence
	order := c.order
	states := c.states
	c.mu.Unlock()

	if sequence {
		next, ok := NextInSequence(order, id, func(candidate string) bool {
			return hasPlayableAudio(states[candidate])
		})
		if ok {
			c.logger.Debug("sequence advance",
				logging.String("from", id),
				logging.String("to", next))
			c.Apply(next, Fields{FieldPlaybackTime: 0.0})
			if c.hooks.Switch != nil {
				c.hooks.Switch(next)
			}
			return
		}
	}
	if c.hooks.Complete != nil {
		c.hooks.Complete()
	}
}

func hasPlayableAudio(entry Fields) bool {
	if entry == nil {
		return false
	}
	if src, ok := entry[FieldLocalAudio].(string); ok && src != "" {
		return true
	}
	if src, ok := entry[FieldAudioSrc].(string); ok && src != "" {
		return true
	}
	return false
}

// Select focuses mark/undo/nudge on one perspective. The cursor resets to
// the word after the last marked entry so a resumed session continues where
// it left off.
func (c *Coordinator) Select(id string) {
	entries := c.timingsOf(id)

	c.mu.Lock()
	c.selected = id
	c.cursor = 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i] != nil {
			c.cursor = i + 1
			break
		}
	}
	c.mu.Unlock()
}

// Mark stamps the current playback position onto the cursor word and
// advances.
func (c *Coordinator) Mark() {
	c.mu.Lock()
	id := c.selected
	cursor := c.cursor
	position := c.position
	c.mu.Unlock()
	if id == "" {
		return
	}

	entries := c.timingsOf(id)
	if cursor >= len(entries) {
		return
	}
	next := cloneEntries(entries)
	next[cursor] = &timing.Entry{Start: position}

	c.mu.Lock()
	c.cursor = cursor + 1
	c.mu.Unlock()
	c.setTimings(id, next)
}

// Undo removes the last mark and seeks playback back to the mark before it.
func (c *Coordinator) Undo() {
	c.mu.Lock()
	id := c.selected
	cursor := c.cursor
	c.mu.Unlock()
	if id == "" || cursor == 0 {
		return
	}

	entries := c.timingsOf(id)
	cursor--
	if cursor >= len(entries) {
		cursor = len(entries) - 1
	}
	next := cloneEntries(entries)
	next[cursor] = nil

	seekTo := 0.0
	for i := cursor - 1; i >= 0; i-- {
		if next[i] != nil {
			seekTo = next[i].Start
			break
		}
	}

	c.mu.Lock()
	c.cursor = cursor
	c.mu.Unlock()
	c.setTimings(id, next)
	if c.hooks.Seek != nil {
		c.hooks.Seek(seekTo)
	}
}

// Nudge shifts the most recently marked word's start by ticks of the
// configured step, clamped at zero.
func (c *Coordinator) Nudge(ticks int) {
	c.mu.Lock()
	id := c.selected
	cursor := c.cursor
	step := c.nudgeStep
	c.mu.Unlock()
	if id == "" || cursor == 0 {
		return
	}

	entries := c.timingsOf(id)
	target := cursor - 1
	if target >= len(entries) || entries[target] == nil {
		return
	}
	next := cloneEntries(entries)
	start := next[target].Start + float64(ticks)*step
	if start < 0 {
		start = 0
	}
	shifted := *next[target]
	shifted.Start = start
	next[target] = &shifted

	c.setTimings(id, next)
}

// ApplyDraft installs drafted timings, but only for perspectives without
// live runtime timings; a draft never overwrites live state.
func (c *Coordinator) ApplyDraft(id string, entries timing.Entries) bool {
	if len(c.timingsOf(id)) > 0 {
		return false
	}
	c.Apply(id, Fields{FieldTimings: entries})
	return true
}

func (c *Coordinator) timingsOf(id string) timing.Entries {
	c.mu.Lock()
	entry := c.states[id]
	c.mu.Unlock()
	if entry == nil {
		return nil
	}
	entries, _ := entry[FieldTimings].(timing.Entries)
	return entries
}

func (c *Coordinator) setTimings(id string, entries timing.Entries) {
	c.Apply(id, Fields{FieldTimings: entries})
	if c.hooks.Timings != nil {
		c.hooks.Timings(id, entries)
	}
}

func cloneEntries(entries timing.Entries) timing.Entries {
	next := make(timing.Entries, len(entries))
	copy(next, entries)
	return next
}

