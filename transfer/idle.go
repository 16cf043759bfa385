package transfer

import (
	"time"
)

// idleWatchdog fires once when touch has not been called for timeout.
// A nil watchdog is disabled.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
}

func watchIdle(timeout time.Duration, onIdle func()) *idleWatchdog {
	if timeout <= 0 {
		return nil
	}
	return &idleWatchdog{
		timeout: timeout,
		timer:   time.AfterFunc(timeout, onIdle),
	}
}

func (w *idleWatchdog) touch() {
	if w == nil {
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *idleWatchdog) stop() {
	if w == nil {
		return
	}
	w.timer.Stop()
}
