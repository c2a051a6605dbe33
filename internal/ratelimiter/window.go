package ratelimiter

import "time"

// WindowConfig is one call budget: at most Limit calls in any Window-long span.
type WindowConfig struct {
	Label  string
	Limit  int
	Window time.Duration
}

// window holds admitted-call timestamps in ascending order.
type window struct {
	cfg   WindowConfig
	calls []time.Time
}

func newWindow(cfg WindowConfig) *window {
	return &window{cfg: cfg, calls: make([]time.Time, 0, cfg.Limit)}
}

// live returns the timestamps still inside the window at now.
// A call exactly one window old has expired.
func (w *window) live(now time.Time) []time.Time {
	cutoff := now.Add(-w.cfg.Window)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	return w.calls[i:]
}

func (w *window) purge(now time.Time) {
	live := w.live(now)
	if len(live) == len(w.calls) {
		return
	}
	w.calls = append(w.calls[:0], live...)
}

func (w *window) used(now time.Time) int { return len(w.live(now)) }

func (w *window) record(now time.Time) { w.calls = append(w.calls, now) }

func (w *window) reset() { w.calls = w.calls[:0] }

// wait is how long until one more call fits. Zero when the window has room.
func (w *window) wait(now time.Time) time.Duration {
	live := w.live(now)
	if len(live) < w.cfg.Limit {
		return 0
	}
	// The call that must expire to open a slot. With exactly Limit live
	// calls this is the oldest one.
	blocking := live[len(live)-w.cfg.Limit]
	d := blocking.Add(w.cfg.Window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
