package widget

import (
	"sync"
	"time"
)

// typingDebouncer turns a stream of keystrokes into edge triggered typing
// signals: a burst starts on the first keystroke and ends when input pauses
// longer than the window or when a message is sent. A single resettable
// timer backs the whole thing. Touch and Flush run on the synchronizer's
// loop and report the edge to the caller; only the timer expiry, which runs
// on its own goroutine, goes through the onIdle callback.
type typingDebouncer struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
	active bool
	onIdle func()
}

func newTypingDebouncer(window time.Duration, onIdle func()) *typingDebouncer {
	return &typingDebouncer{window: window, onIdle: onIdle}
}

// Touch registers one keystroke and reports whether it starts a new burst.
// Subsequent keystrokes only push the expiry forward.
func (d *typingDebouncer) Touch() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	started := !d.active
	d.active = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.expire)
	return started
}

func (d *typingDebouncer) expire() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.mu.Unlock()
	d.onIdle()
}

// Flush ends the current burst and reports whether one was in progress.
// Called when a message is sent so the stop signal can precede it.
func (d *typingDebouncer) Flush() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	wasActive := d.active
	d.active = false
	return wasActive
}

// Stop cancels the timer without reporting anything.
func (d *typingDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.active = false
}
