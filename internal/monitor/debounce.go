package monitor

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid repeated triggers into one delayed firing.
// Each Trigger resets the pending timer; only the last trigger inside
// the window actually fires. Immediate cancels any pending timer and
// fires synchronously, for callers that must not wait.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	fn     func()
	timer  *time.Timer

	// gen invalidates timers already past Stop when superseded. A timer
	// whose Stop returned false may still run its callback; the
	// generation check makes that callback a no-op.
	gen uint64
}

// NewDebouncer wraps fn with a debounce window.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Trigger schedules (or reschedules) a firing after the window elapses.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

// Immediate cancels any pending firing and runs fn synchronously.
func (d *Debouncer) Immediate() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.mu.Unlock()
	d.fn()
}

// Stop cancels any pending firing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// fire runs fn only when gen is still current.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}
