package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownFormats = map[string]struct{}{
	"float32": {},
	"int16":   {},
	"int32":   {},
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StateDir) == "" {
		problems = append(problems, "paths.state_dir must be set")
	}
	if c.Capture.SampleRate <= 0 {
		problems = append(problems, "capture.sample_rate must be positive")
	}
	if c.Capture.FramesPerBuffer <= 0 {
		problems = append(problems, "capture.frames_per_buffer must be positive")
	}
	if len(c.Capture.Formats) == 0 {
		problems = append(problems, "capture.formats must list at least one candidate")
	}
	for _, format := range c.Capture.Formats {
		if _, ok := knownFormats[strings.ToLower(strings.TrimSpace(format))]; !ok {
			problems = append(problems, fmt.Sprintf("capture.formats: unknown format %q", format))
		}
	}
	if c.Controller.Enabled {
		if len(c.Controller.MarkNotes) != 2 {
			problems = append(problems, "controller.mark_notes must list exactly two note numbers")
		}
		if len(c.Controller.UndoNotes) != 2 {
			problems = append(problems, "controller.undo_notes must list exactly two note numbers")
		}
		for _, note := range append(append([]int{}, c.Controller.MarkNotes...), c.Controller.UndoNotes...) {
			if note < 0 || note > 127 {
				problems = append(problems, fmt.Sprintf("controller: note number %d out of MIDI range", note))
			}
		}
		if c.Controller.NudgeCC < 0 || c.Controller.NudgeCC > 127 {
			problems = append(problems, "controller.nudge_cc out of MIDI range")
		}
	}
	if c.Drafts.DebounceMs < 0 {
		problems = append(problems, "drafts.debounce_ms must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
