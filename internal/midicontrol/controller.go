package midicontrol

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"recite/internal/config"
	"recite/internal/logging"
)

// Ports are the only surface the controller exposes to the rest of the
// system. Mark advances to the next word, Undo seeks back, Nudge shifts the
// selected word's start by a number of encoder ticks.
type Ports struct {
	Mark  func()
	Undo  func()
	Nudge func(ticks int)
}

// Ports matching these patterns are never auto-connected (virtual/system
// ports).
var excludedNamePatterns = []string{"Midi Through", "Through Port", "Dummy"}

// Controller keeps exactly one MIDI input subscribed. If several inputs are
// connected it prefers one matching a configured name pattern, else the
// first connected. It resubscribes automatically on hot-plug and hot-unplug
// and forgets remembered control-change state whenever the subscription
// changes.
type Controller struct {
	cfg    config.Controller
	logger *slog.Logger
	ports  Ports
	drv    *rtmididrv.Driver

	mu       sync.Mutex
	in       drivers.In
	stopFn   func()
	name     string
	ccPrev   int
	ccSeen   bool
	rescanAt time.Time

	quit    chan struct{}
	running bool
}

// New builds a controller over the rtmidi driver. Call Start to begin
// scanning and Close to release the driver.
func New(cfg *config.Config, logger *slog.Logger, ports Ports) (*Controller, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:    cfg.Controller,
		logger: logging.NewComponentLogger(logger, "midi"),
		ports:  ports,
		drv:    drv,
	}, nil
}

// Start launches the hot-plug scan loop.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.quit = make(chan struct{})
	c.running = true

	interval := time.Duration(c.cfg.RescanSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	quit := c.quit
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		c.tick()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()
}

// Close stops scanning, disconnects, and releases the driver.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.running {
		close(c.quit)
		c.running = false
	}
	c.disconnectLocked()
	c.mu.Unlock()
	_ = c.drv.Close()
}

// Connected reports the current subscription, if any.
func (c *Controller) Connected() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name, c.in != nil
}

func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	inputs, err := c.inputs()
	if err != nil {
		c.logger.Warn("midi input enumeration failed", logging.Error(err))
		return
	}

	if c.in != nil {
		for _, in := range inputs {
			if in.String() == c.name {
				return
			}
		}
		c.logger.Warn("midi device disappeared", logging.String("device", c.name))
		c.disconnectLocked()
	}

	candidate := c.pick(inputs)
	if candidate == nil {
		return
	}
	if err := c.subscribeLocked(candidate); err != nil {
		c.logger.Warn("midi connect failed",
			logging.String("device", candidate.String()),
			logging.Error(err))
	}
}

func (c *Controller) inputs() ([]drivers.In, error) {
	ins, err := c.drv.Ins()
	if err != nil {
		return nil, err
	}
	usable := ins[:0]
	for _, in := range ins {
		if excludedInput(in.String()) {
			continue
		}
		usable = append(usable, in)
	}
	return usable, nil
}

func excludedInput(name string) bool {
	for _, pattern := range excludedNamePatterns {
		if containsFold(name, pattern) {
			return true
		}
	}
	return false
}

// pick prefers a configured name pattern, else the first connected input.
func (c *Controller) pick(inputs []drivers.In) drivers.In {
	for _, pattern := range c.cfg.DevicePatterns {
		for _, in := range inputs {
			if containsFold(in.String(), pattern) {
				return in
			}
		}
	}
	if len(inputs) > 0 {
		return inputs[0]
	}
	return nil
}

func (c *Controller) subscribeLocked(in drivers.In) error {
	if err := in.Open(); err != nil {
		return err
	}
	name := in.String()
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		c.handle(msg)
	}, midi.HandleError(func(listenErr error) {
		c.logger.Warn("midi listener error, device likely disconnected",
			logging.String("device", name),
			logging.Error(listenErr))
		// Must not tear down from inside the listener goroutine.
		go func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.name == name {
				c.disconnectLocked()
			}
		}()
	}))
	if err != nil {
		_ = in.Close()
		return err
	}

	c.in = in
	c.stopFn = stop
	c.name = name
	c.ccSeen = false
	c.logger.Info("midi input connected", logging.String("device", name))
	return nil
}

func (c *Controller) disconnectLocked() {
	if c.stopFn != nil {
		c.stopFn()
		c.stopFn = nil
	}
	if c.in != nil {
		_ = c.in.Close()
		c.in = nil
	}
	c.name = ""
	c.ccSeen = false
}

func (c *Controller) handle(msg midi.Message) {
	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		c.handleNote(int(key))
	case msg.GetControlChange(&ch, &cc, &val):
		c.handleCC(int(cc), int(val))
	}
}

func (c *Controller) handleNote(key int) {
	if containsInt(c.cfg.MarkNotes, key) {
		c.logger.Debug("mark", logging.Int("note", key))
		if c.ports.Mark != nil {
			c.ports.Mark()
		}
		return
	}
	if containsInt(c.cfg.UndoNotes, key) {
		c.logger.Debug("undo", logging.Int("note", key))
		if c.ports.Undo != nil {
			c.ports.Undo()
		}
	}
}

func (c *Controller) handleCC(cc, val int) {
	if cc != c.cfg.NudgeCC {
		return
	}
	c.mu.Lock()
	prev, seen := c.ccPrev, c.ccSeen
	c.ccPrev, c.ccSeen = val, true
	c.mu.Unlock()
	if !seen {
		// First value after (re)subscription only establishes state.
		return
	}
	ticks, ok := DecodeCcDelta(prev, val)
	if !ok {
		return
	}
	c.logger.Debug("nudge", logging.Int("ticks", ticks))
	if c.ports.Nudge != nil {
		c.ports.Nudge(ticks)
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func containsInt(values []int, want int) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
