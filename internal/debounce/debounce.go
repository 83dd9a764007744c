// Package debounce coalesces bursts of per-key actions into one trailing call.
package debounce

import (
	"slices"
	"sync"
	"time"
)

// DefaultDelay is the coalescing window for reading-position uploads.
const DefaultDelay = time.Second

// pendingAction is the latest action scheduled for a key.
type pendingAction struct {
	fn    func()
	timer *time.Timer
}

// Debouncer runs only the last action triggered for a key, Delay after the last trigger.
// Every scheduled action runs exactly once unless Cancel drops it.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingAction
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Debouncer. delay <= 0 uses DefaultDelay.
func New(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*pendingAction),
	}
}

// Trigger schedules fn for key, replacing any action still waiting for that key.
// After Stop the action runs immediately.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		fn()
		return
	}

	if prev, exists := d.pending[key]; exists {
		prev.timer.Stop()
		d.wg.Done()
	}

	action := &pendingAction{fn: fn}
	action.timer = time.AfterFunc(d.delay, func() {
		d.fire(key, action)
	})
	d.pending[key] = action
	d.wg.Add(1)
	d.mu.Unlock()
}

// fire runs action if it is still the pending one for key. A superseded or taken action
// was already released from wg by whoever removed it.
func (d *Debouncer) fire(key string, action *pendingAction) {
	d.mu.Lock()
	current, exists := d.pending[key]
	if !exists || current != action {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	defer d.wg.Done()
	action.fn()
}

// take removes the actions for keys (all keys when none are given) and stops their timers.
// The caller owes one wg.Done per returned action.
func (d *Debouncer) take(keys ...string) []*pendingAction {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(keys) == 0 {
		for key := range d.pending {
			keys = append(keys, key)
		}
		slices.Sort(keys)
	}

	var taken []*pendingAction
	for _, key := range keys {
		action, exists := d.pending[key]
		if !exists {
			continue
		}
		action.timer.Stop()
		delete(d.pending, key)
		taken = append(taken, action)
	}
	return taken
}

// Flush runs the pending actions for keys (every key when none are given) in the calling
// goroutine instead of waiting for their timers.
func (d *Debouncer) Flush(keys ...string) {
	for _, action := range d.take(keys...) {
		func() {
			defer d.wg.Done()
			action.fn()
		}()
	}
}

// Cancel drops the pending action for key without running it.
func (d *Debouncer) Cancel(key string) {
	for range d.take(key) {
		d.wg.Done()
	}
}

// Pending returns the number of keys with a scheduled action.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop flushes every pending action, waits for actions already running on a timer,
// and makes later triggers run synchronously.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.Flush()
	d.wg.Wait()
}
