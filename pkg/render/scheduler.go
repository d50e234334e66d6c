package render

import (
	"sync"
	"time"
)

// DefaultDebounce is the coalescing window for draw scheduling: draws
// requested within this window collapse into one frame.
const DefaultDebounce = 16 * time.Millisecond

// RedrawQueue coalesces mutation-triggered redraw requests into a single
// debounced signal on Draws, except keypress echo, which always fires
// immediately regardless of a pending debounce timer.
type RedrawQueue struct {
	mu       sync.Mutex
	debounce time.Duration
	timer    *time.Timer
	draws    chan struct{}
	stopped  bool
}

// NewRedrawQueue creates a queue with the given coalescing window. A
// non-positive debounce means every request draws immediately.
func NewRedrawQueue(debounce time.Duration) *RedrawQueue {
	return &RedrawQueue{
		debounce: debounce,
		draws:    make(chan struct{}, 1),
	}
}

// Draws is the channel a caller's event loop selects on; each receive means
// "compose and paint a frame now".
func (q *RedrawQueue) Draws() <-chan struct{} { return q.draws }

func (q *RedrawQueue) signal() {
	select {
	case q.draws <- struct{}{}:
	default:
		// already a pending draw signal; coalesced.
	}
}

// RequestDraw schedules a debounced redraw. Multiple calls within the
// debounce window produce exactly one signal on Draws.
func (q *RedrawQueue) RequestDraw() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	if q.debounce <= 0 {
		q.signal()
		return
	}
	if q.timer != nil {
		return // a debounce timer is already armed; it will fire once.
	}
	q.timer = time.AfterFunc(q.debounce, func() {
		q.mu.Lock()
		q.timer = nil
		stopped := q.stopped
		q.mu.Unlock()
		if !stopped {
			q.signal()
		}
	})
}

// RequestImmediateDraw bypasses the debounce window entirely — used for
// keypress echo, which takes priority: even if an animation timer is
// armed, a new key triggers an immediate redraw.
func (q *RedrawQueue) RequestImmediateDraw() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()
	q.signal()
}

// Stop disarms any pending timer and prevents further signals.
func (q *RedrawQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}
