package capture

import (
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"recite/internal/logging"
)

// deviceWatcher listens for udev netlink events on the sound subsystem and
// reports removal of the active input device while a recording is wanted.
// Without it a yanked microphone would surface as an ordinary stream error
// and be mislabeled as a deliberate stop.
type deviceWatcher struct {
	logger *slog.Logger
	onLost func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newDeviceWatcher(logger *slog.Logger, onLost func()) *deviceWatcher {
	return &deviceWatcher{
		logger: logging.NewComponentLogger(logger, "device-watcher"),
		onLost: onLost,
	}
}

// Start begins listening. Failure to open the netlink socket is non-fatal:
// capture still works, device loss just degrades to a stream error.
func (w *deviceWatcher) Start() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Warn("netlink socket unavailable, device-loss detection disabled",
			logging.Error(err))
		return
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.loop(quit)

	w.logger.Debug("device watcher started")
}

// Stop shuts the watcher down.
func (w *deviceWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
}

func (w *deviceWatcher) loop(quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, soundRemovalMatcher())

	for {
		select {
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.logger.Info("sound device removed",
				logging.String("kobj", uevent.KObj),
				logging.String("devname", uevent.Env["DEVNAME"]))
			if w.onLost != nil {
				w.onLost()
			}
		case err := <-errs:
			w.logger.Warn("device watcher error", logging.Error(err))
		}
	}
}

// soundRemovalMatcher matches SUBSYSTEM=sound, ACTION=remove.
func soundRemovalMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "sound",
		},
	})
	return rules
}
